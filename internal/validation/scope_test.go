package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleScope = `# Acme external perimeter
shop.acme.com
*.api.acme.com
203.0.113.0/24

[out-of-scope]
legacy.shop.acme.com
`

func TestParseScope(t *testing.T) {
	sc, err := ParseScope(strings.NewReader(sampleScope))
	if err != nil {
		t.Fatalf("ParseScope failed: %v", err)
	}
	if len(sc.InScope) != 3 {
		t.Fatalf("InScope = %v, want 3 entries", sc.InScope)
	}
	if len(sc.OutOfScope) != 1 {
		t.Fatalf("OutOfScope = %v, want 1 entry", sc.OutOfScope)
	}

	wantTypes := []string{"domain", "wildcard", "ip_range"}
	for i, e := range sc.InScope {
		if e.Type != wantTypes[i] {
			t.Errorf("InScope[%d].Type = %q, want %q", i, e.Type, wantTypes[i])
		}
	}
}

func TestParseScope_InvalidLine(t *testing.T) {
	_, err := ParseScope(strings.NewReader("shop.acme.com\nnot a host\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("ParseScope error = %v, want line 2 failure", err)
	}
}

func TestScope_Contains(t *testing.T) {
	sc, err := ParseScope(strings.NewReader(sampleScope))
	if err != nil {
		t.Fatalf("ParseScope failed: %v", err)
	}

	tests := []struct {
		target string
		want   bool
	}{
		{"https://shop.acme.com/cart", true},
		{"https://eu.shop.acme.com", true},
		{"https://legacy.shop.acme.com", false},
		{"https://v2.api.acme.com:8443", true},
		{"https://api.acme.com", false},
		{"http://203.0.113.7", true},
		{"http://198.51.100.1", false},
		{"https://acme.com", false},
	}
	for _, tt := range tests {
		if got := sc.Contains(tt.target); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestLoadScopeFile_MergeWithFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scope.txt")
	if err := os.WriteFile(path, []byte(sampleScope), 0600); err != nil {
		t.Fatal(err)
	}

	fromFile, err := LoadScopeFile(path)
	if err != nil {
		t.Fatalf("LoadScopeFile failed: %v", err)
	}
	sc, err := NewScope([]string{"admin.acme.com"}, nil)
	if err != nil {
		t.Fatalf("NewScope failed: %v", err)
	}
	sc.Merge(fromFile)

	in, out := sc.Values()
	if len(in) != 4 || in[0] != "admin.acme.com" {
		t.Errorf("in-scope values = %v", in)
	}
	if len(out) != 1 || out[0] != "legacy.shop.acme.com" {
		t.Errorf("out-of-scope values = %v", out)
	}
}

func TestLoadScopeFile_Missing(t *testing.T) {
	if _, err := LoadScopeFile(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("LoadScopeFile should fail for a missing file")
	}
}
