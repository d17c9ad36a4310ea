package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/logger"
)

const validPolicy = `
actions:
  stale_pr:
    action: nudge_chat
    risk: low
    mode: auto
  no_ticket_link:
    action: comment_summary
    risk: medium
    mode: require_approval
  force_push_main:
    deny: true
    reason: never automated

limits:
  max_auto_actions_per_day: 50
`

func writePolicy(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseRejectsInvalidModeAndRisk(t *testing.T) {
	if _, err := Parse([]byte("actions:\n  x:\n    mode: maybe\n")); err == nil {
		t.Error("invalid mode accepted")
	}
	if _, err := Parse([]byte("actions:\n  x:\n    risk: extreme\n")); err == nil {
		t.Error("invalid risk accepted")
	}
	if _, err := Parse([]byte(validPolicy)); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}
}

func TestTableEvaluate(t *testing.T) {
	log := logger.New("error", "text")
	table := NewTable(writePolicy(t, validPolicy), log)

	d := table.Evaluate("stale_pr")
	if !d.Allow || d.Action != "nudge_chat" || d.Mode != ModeAuto {
		t.Errorf("stale_pr decision = %+v", d)
	}

	d = table.Evaluate("force_push_main")
	if d.Allow {
		t.Error("denied entry evaluated as allowed")
	}
	if d.Reason != "never automated" {
		t.Errorf("deny reason = %q", d.Reason)
	}

	// Entries with omitted fields get the permissive defaults
	d = table.Evaluate("no_ticket_link")
	if d.Mode != ModeRequireApproval || d.Risk != "medium" {
		t.Errorf("no_ticket_link decision = %+v", d)
	}
}

func TestTableFallbackForUnknownKind(t *testing.T) {
	log := logger.New("error", "text")
	table := NewTable(writePolicy(t, validPolicy), log)

	d := table.Evaluate("something_new")
	if !d.Allow || d.Action != "nudge_chat" || d.Mode != ModeAsk || d.Risk != "low" {
		t.Errorf("fallback decision = %+v", d)
	}
}

func TestTableKeepsLastGoodOnInvalidFile(t *testing.T) {
	log := logger.New("error", "text")
	path := writePolicy(t, validPolicy)
	base := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, base, base); err != nil {
		t.Fatal(err)
	}

	table := NewTable(path, log)
	if d := table.Evaluate("stale_pr"); d.Mode != ModeAuto {
		t.Fatalf("initial decision = %+v", d)
	}

	if err := os.WriteFile(path, []byte("actions: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, base.Add(time.Minute), base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	if d := table.Evaluate("stale_pr"); d.Mode != ModeAuto {
		t.Errorf("decision after broken reload = %+v", d)
	}
}

func TestEvaluatorRequiresKind(t *testing.T) {
	log := logger.New("error", "text")
	table := NewTable(writePolicy(t, validPolicy), log)
	e := NewEvaluator(table, "", false, time.Second, log)

	_, err := e.Evaluate(context.Background(), Input{})
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Errorf("err = %v", err)
	}
}

func TestEvaluatorExternalBackend(t *testing.T) {
	log := logger.New("error", "text")
	table := NewTable(writePolicy(t, validPolicy), log)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"allow":false,"action":"nudge_chat","risk":"high","mode":"require_approval","reason":"external veto"}`))
	}))
	defer srv.Close()

	e := NewEvaluator(table, srv.URL, false, time.Second, log)
	d, err := e.Evaluate(context.Background(), Input{Kind: "stale_pr"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Allow || d.Reason != "external veto" {
		t.Errorf("decision = %+v", d)
	}
}

func TestEvaluatorFallsBackOnBackendFailure(t *testing.T) {
	log := logger.New("error", "text")
	table := NewTable(writePolicy(t, validPolicy), log)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	open := NewEvaluator(table, srv.URL, false, time.Second, log)
	d, err := open.Evaluate(context.Background(), Input{Kind: "stale_pr"})
	if err != nil {
		t.Fatalf("fail-open Evaluate: %v", err)
	}
	if d.Mode != ModeAuto {
		t.Errorf("fail-open decision = %+v", d)
	}

	closed := NewEvaluator(table, srv.URL, true, time.Second, log)
	_, err = closed.Evaluate(context.Background(), Input{Kind: "stale_pr"})
	if apperrors.KindOf(err) != apperrors.KindUnavailable {
		t.Errorf("fail-closed err = %v", err)
	}
}
