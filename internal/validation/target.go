// Package validation checks scan targets and scope lists before they are
// stored for a tenant.
package validation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrEmptyTarget   = errors.New("target url cannot be empty")
	ErrPrivateTarget = errors.New("target points to a private or local network")
)

// TargetValidationResult is the outcome of checking a target URL.
type TargetValidationResult struct {
	Host          string
	HostType      string // "domain" or "ip"
	NormalizedURL string
	Warnings      []string
}

// ValidateTarget checks that raw is an absolute http(s) URL. Loopback,
// private and internal-TLD hosts are refused unless allowPrivate is set,
// in which case they only produce a warning.
func ValidateTarget(raw string, allowPrivate bool) (*TargetValidationResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyTarget
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("target url must start with http:// or https://")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("target url has no host")
	}

	result := &TargetValidationResult{Host: host}
	switch {
	case net.ParseIP(host) != nil:
		result.HostType = "ip"
	case isDomain(host) || host == "localhost":
		result.HostType = "domain"
	default:
		return nil, fmt.Errorf("target host %q is not a domain or IP address", host)
	}

	if isPrivateHost(host) {
		if !allowPrivate {
			return nil, ErrPrivateTarget
		}
		result.Warnings = append(result.Warnings, "Target is on a private or local network")
	}
	if u.Scheme == "http" {
		result.Warnings = append(result.Warnings, "Target uses plain http")
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	result.NormalizedURL = u.String()
	return result, nil
}

var privateSuffixes = []string{".local", ".internal", ".lan", ".test", ".localhost"}

// isPrivateHost reports loopback, private and link-local IPs as well as
// hostnames under internal-only TLDs.
func isPrivateHost(host string) bool {
	if host == "localhost" {
		return true
	}
	for _, suffix := range privateSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

var domainRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

func isDomain(s string) bool {
	return domainRegex.MatchString(s)
}
