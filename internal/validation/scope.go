package validation

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// Scope is a target's in-scope and out-of-scope lists.
type Scope struct {
	InScope    []ScopeEntry
	OutOfScope []ScopeEntry
}

// ScopeEntry is one scope line.
type ScopeEntry struct {
	Value string
	Type  string // "domain", "wildcard", "ip", "ip_range", "url"
}

// ParseScopeEntry classifies a single entry.
func ParseScopeEntry(s string) (ScopeEntry, error) {
	s = strings.TrimSpace(s)

	if strings.Contains(s, "/") && !strings.Contains(s, "://") {
		if _, _, err := net.ParseCIDR(s); err == nil {
			return ScopeEntry{Value: s, Type: "ip_range"}, nil
		}
	}
	if net.ParseIP(s) != nil {
		return ScopeEntry{Value: s, Type: "ip"}, nil
	}
	if strings.HasPrefix(s, "*.") && isDomain(strings.TrimPrefix(s, "*.")) {
		return ScopeEntry{Value: strings.ToLower(s), Type: "wildcard"}, nil
	}
	if isDomain(s) {
		return ScopeEntry{Value: strings.ToLower(s), Type: "domain"}, nil
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return ScopeEntry{Value: s, Type: "url"}, nil
	}
	return ScopeEntry{}, fmt.Errorf("invalid scope entry %q", s)
}

// NewScope builds a scope from flag values.
func NewScope(inScope, outOfScope []string) (*Scope, error) {
	sc := &Scope{}
	for _, v := range inScope {
		e, err := ParseScopeEntry(v)
		if err != nil {
			return nil, err
		}
		sc.InScope = append(sc.InScope, e)
	}
	for _, v := range outOfScope {
		e, err := ParseScopeEntry(v)
		if err != nil {
			return nil, err
		}
		sc.OutOfScope = append(sc.OutOfScope, e)
	}
	return sc, nil
}

// LoadScopeFile reads a scope file. Lines are entries; "[in-scope]" and
// "[out-of-scope]" switch sections; "#" starts a comment. Entries before
// any header are in scope.
func LoadScopeFile(path string) (*Scope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scope file: %w", err)
	}
	defer f.Close()
	return ParseScope(f)
}

func ParseScope(r io.Reader) (*Scope, error) {
	sc := &Scope{}
	inScope := true

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch strings.ToLower(line) {
		case "[in-scope]", "[inscope]":
			inScope = true
			continue
		case "[out-of-scope]", "[outofscope]":
			inScope = false
			continue
		}

		e, err := ParseScopeEntry(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if inScope {
			sc.InScope = append(sc.InScope, e)
		} else {
			sc.OutOfScope = append(sc.OutOfScope, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading scope file: %w", err)
	}
	return sc, nil
}

// Merge appends other's entries to sc.
func (sc *Scope) Merge(other *Scope) {
	if other == nil {
		return
	}
	sc.InScope = append(sc.InScope, other.InScope...)
	sc.OutOfScope = append(sc.OutOfScope, other.OutOfScope...)
}

// Values returns the raw entries of both lists.
func (sc *Scope) Values() (inScope, outOfScope []string) {
	for _, e := range sc.InScope {
		inScope = append(inScope, e.Value)
	}
	for _, e := range sc.OutOfScope {
		outOfScope = append(outOfScope, e.Value)
	}
	return inScope, outOfScope
}

// Contains reports whether target is covered by the in-scope list and not
// excluded by the out-of-scope list. An empty in-scope list covers nothing.
func (sc *Scope) Contains(target string) bool {
	host := normalizeHost(target)
	if matchesAny(host, target, sc.OutOfScope) {
		return false
	}
	return matchesAny(host, target, sc.InScope)
}

func normalizeHost(target string) string {
	t := strings.ToLower(strings.TrimSpace(target))
	t = strings.TrimPrefix(t, "http://")
	t = strings.TrimPrefix(t, "https://")
	t = strings.Split(t, "/")[0]
	if h, _, err := net.SplitHostPort(t); err == nil {
		return h
	}
	return t
}

func matchesAny(host, target string, entries []ScopeEntry) bool {
	for _, e := range entries {
		if matches(host, target, e) {
			return true
		}
	}
	return false
}

func matches(host, target string, e ScopeEntry) bool {
	switch e.Type {
	case "domain":
		return host == e.Value || strings.HasSuffix(host, "."+e.Value)
	case "wildcard":
		return strings.HasSuffix(host, strings.TrimPrefix(e.Value, "*"))
	case "ip":
		return host == e.Value
	case "ip_range":
		ip := net.ParseIP(host)
		_, ipNet, err := net.ParseCIDR(e.Value)
		return ip != nil && err == nil && ipNet.Contains(ip)
	case "url":
		return strings.HasPrefix(strings.ToLower(target), strings.ToLower(e.Value))
	}
	return false
}
