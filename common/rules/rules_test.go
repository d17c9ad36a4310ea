package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsrelay/opsrelay/common/logger"
)

const validRules = `
rules:
  - name: stale-prs
    kind: stale_pr
    parameters:
      older_than_hours: 48
  - name: wip-overload
    kind: wip_limit_exceeded
    parameters:
      limit: 5
`

func TestParse(t *testing.T) {
	rules, err := Parse([]byte(validRules))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("parsed %d rules, want 2", len(rules))
	}
	if rules[0].Name != "stale-prs" || rules[0].Kind != KindStalePR {
		t.Errorf("rule[0] = %+v", rules[0])
	}
	if got := rules[0].IntParam("older_than_hours", 0); got != 48 {
		t.Errorf("older_than_hours = %d, want 48", got)
	}
}

func TestParseRejectsStructuralProblems(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing name", "rules:\n  - kind: stale_pr\n"},
		{"missing kind", "rules:\n  - name: a\n"},
		{"duplicate names", "rules:\n  - name: a\n    kind: stale_pr\n  - name: a\n    kind: stale_pr\n"},
		{"malformed yaml", "rules: [\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.doc)); err == nil {
				t.Error("expected a parse error")
			}
		})
	}
}

func TestParseAllowsUnknownKinds(t *testing.T) {
	// Unknown kinds load fine and fail only at evaluation time
	rules, err := Parse([]byte("rules:\n  - name: future\n    kind: not_yet_a_thing\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if KnownKind(rules[0].Kind) {
		t.Error("kind should be unknown")
	}
}

func TestLoaderReloadsOnChange(t *testing.T) {
	log := logger.New("error", "text")
	path := filepath.Join(t.TempDir(), "rules.yaml")

	write := func(doc string, mtime time.Time) {
		t.Helper()
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	base := time.Now().Add(-time.Hour)
	write(validRules, base)

	l := NewLoader(path, log)
	rules, err := l.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("loaded %d rules, want 2", len(rules))
	}

	write("rules:\n  - name: only-one\n    kind: stale_pr\n", base.Add(time.Minute))
	rules, err = l.Current()
	if err != nil {
		t.Fatalf("Current after change: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "only-one" {
		t.Errorf("reloaded rules = %+v", rules)
	}
}

func TestLoaderKeepsLastGoodOnInvalidFile(t *testing.T) {
	log := logger.New("error", "text")
	path := filepath.Join(t.TempDir(), "rules.yaml")

	base := time.Now().Add(-time.Hour)
	if err := os.WriteFile(path, []byte(validRules), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, base, base); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path, log)
	if _, err := l.Current(); err != nil {
		t.Fatalf("Current: %v", err)
	}

	// Break the file; the loader serves the previous list
	if err := os.WriteFile(path, []byte("rules: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, base.Add(time.Minute), base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	rules, err := l.Current()
	if err != nil {
		t.Fatalf("Current with broken file: %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("kept %d rules, want the previous 2", len(rules))
	}

	// Delete the file entirely; same behavior
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	rules, err = l.Current()
	if err != nil {
		t.Fatalf("Current with missing file: %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("kept %d rules after delete, want 2", len(rules))
	}
}

func TestLoaderErrorsBeforeFirstGoodLoad(t *testing.T) {
	log := logger.New("error", "text")
	l := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"), log)
	if _, err := l.Current(); err == nil {
		t.Error("expected an error with no file and no prior load")
	}
}

func TestParamHelpers(t *testing.T) {
	r := Rule{Parameters: map[string]interface{}{
		"limit":   float64(7),
		"pattern": "[A-Z]+-[0-9]+",
		"empty":   "",
	}}

	if got := r.IntParam("limit", 5); got != 7 {
		t.Errorf("IntParam = %d, want 7", got)
	}
	if got := r.IntParam("absent", 5); got != 5 {
		t.Errorf("IntParam default = %d, want 5", got)
	}
	if got := r.StringParam("pattern", "x"); got != "[A-Z]+-[0-9]+" {
		t.Errorf("StringParam = %q", got)
	}
	if got := r.StringParam("empty", "fallback"); got != "fallback" {
		t.Errorf("StringParam empty = %q, want fallback", got)
	}
}
