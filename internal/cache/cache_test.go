package cache

import (
	"strings"
	"testing"
)

func TestFingerprintDeterminism(t *testing.T) {
	a := Fingerprint("project_abc123def456", "analyze_budget", 50000, 42000, []float64{5000, 7000, 8000, 6000})
	b := Fingerprint("project_abc123def456", "analyze_budget", 50000, 42000, []float64{5000, 7000, 8000, 6000})
	if a != b {
		t.Fatalf("identical inputs produced different keys: %q vs %q", a, b)
	}
	want := "project_abc123def456:analyze_budget:50000:42000:5000,7000,8000,6000"
	if a != want {
		t.Fatalf("key = %q, want %q", a, want)
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint("p", "analyze_budget", 100, 50, []float64{1, 2, 3})
	cases := []string{
		Fingerprint("q", "analyze_budget", 100, 50, []float64{1, 2, 3}),
		Fingerprint("p", "analyze_budget", 101, 50, []float64{1, 2, 3}),
		Fingerprint("p", "analyze_budget", 100, 51, []float64{1, 2, 3}),
		Fingerprint("p", "analyze_budget", 100, 50, []float64{1, 2, 4}),
		Fingerprint("p", "analyze_budget", 100, 50, []float64{2, 1, 3}),
	}
	for i, got := range cases {
		if got == base {
			t.Fatalf("case %d: expected a different key than %q", i, base)
		}
	}
}

func TestFingerprintEmptyHistory(t *testing.T) {
	key := Fingerprint("p", "analyze_budget", 100, 0, nil)
	if !strings.HasSuffix(key, ":no_history") {
		t.Fatalf("key = %q, want no_history marker", key)
	}
}

func TestFingerprintBoundsHistoryPrefix(t *testing.T) {
	long := Fingerprint("p", "analyze_budget", 100, 0, []float64{1, 2, 3, 4, 5, 6, 7})
	prefix := Fingerprint("p", "analyze_budget", 100, 0, []float64{1, 2, 3, 4, 5})
	if long != prefix {
		t.Fatalf("keys differ beyond the five-amount prefix: %q vs %q", long, prefix)
	}
	shorter := Fingerprint("p", "analyze_budget", 100, 0, []float64{1, 2, 3, 4})
	if shorter == prefix {
		t.Fatal("a shorter history must not share the five-amount key")
	}
}
