package webhook

import (
	"net/http"
	"testing"
	"time"

	"github.com/opsrelay/opsrelay/common/config"
)

func testRequest(headers map[string]string, body string) Request {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return Request{Headers: h, Body: []byte(body), Now: time.Now()}
}

func lookup(t *testing.T, r *Registry, name string) *Source {
	t.Helper()
	src, err := r.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", name, err)
	}
	return src
}

func TestRegistryCoversAllSources(t *testing.T) {
	r := NewRegistry(config.SecretsConfig{})
	for _, name := range config.Sources {
		if _, err := r.Lookup(name); err != nil {
			t.Errorf("source %q not registered", name)
		}
	}
	if _, err := r.Lookup("telegraph"); err == nil {
		t.Error("unknown source resolved")
	}
}

func TestGitHubDerivation(t *testing.T) {
	r := NewRegistry(config.SecretsConfig{})
	src := lookup(t, r, "github")

	req := testRequest(map[string]string{
		"X-GitHub-Event":    "push",
		"X-GitHub-Delivery": "d-1",
	}, `{"zen":"Keep it simple"}`)

	if got := src.DeriveEventType(req); got != "push" {
		t.Errorf("event type = %q, want push", got)
	}
	if got := src.DeriveDeliveryID(req); got != "d-1" {
		t.Errorf("delivery id = %q, want d-1", got)
	}
}

func TestLinearSynthesizedDeliveryID(t *testing.T) {
	r := NewRegistry(config.SecretsConfig{})
	src := lookup(t, r, "linear")

	req := testRequest(nil, `{"type":"Issue","action":"create","data":{"id":"abc-123"}}`)

	if got := src.DeriveDeliveryID(req); got != "linear-Issue-create-abc-123" {
		t.Errorf("delivery id = %q", got)
	}
	if got := src.DeriveEventType(req); got != "Issue:create" {
		t.Errorf("event type = %q", got)
	}
}

func TestPagerDutyDerivation(t *testing.T) {
	r := NewRegistry(config.SecretsConfig{})
	src := lookup(t, r, "pagerduty")

	req := testRequest(nil, `{"event":{"id":"ev-9","event_type":"incident.triggered"}}`)

	if got := src.DeriveDeliveryID(req); got != "pd-ev-9" {
		t.Errorf("delivery id = %q", got)
	}
	if got := src.DeriveEventType(req); got != "incident.triggered" {
		t.Errorf("event type = %q", got)
	}
}

func TestPrometheusDerivation(t *testing.T) {
	r := NewRegistry(config.SecretsConfig{})
	src := lookup(t, r, "prometheus")

	firing := testRequest(nil, `{"status":"firing","groupKey":"{}:{alertname=\"HighErrorRate\"}"}`)
	if got := src.DeriveEventType(firing); got != "alert_firing" {
		t.Errorf("event type = %q, want alert_firing", got)
	}

	resolved := testRequest(nil, `{"status":"resolved","groupKey":"{}:{alertname=\"HighErrorRate\"}"}`)
	if got := src.DeriveEventType(resolved); got != "alert_resolved" {
		t.Errorf("event type = %q, want alert_resolved", got)
	}

	// Same group and status always synthesizes the same key
	if src.DeriveDeliveryID(firing) != src.DeriveDeliveryID(firing) {
		t.Error("synthesized delivery id is not stable")
	}
	if src.DeriveDeliveryID(firing) == src.DeriveDeliveryID(resolved) {
		t.Error("firing and resolved should have distinct delivery ids")
	}
}

func TestSlackChallenge(t *testing.T) {
	r := NewRegistry(config.SecretsConfig{})
	src := lookup(t, r, "slack")

	req := testRequest(nil, `{"type":"url_verification","challenge":"ABC123"}`)
	challenge, ok := src.Challenge(req)
	if !ok || challenge != "ABC123" {
		t.Errorf("challenge = %q, ok = %v", challenge, ok)
	}

	event := testRequest(nil, `{"type":"event_callback","event_id":"Ev1","event":{"type":"message"}}`)
	if _, ok := src.Challenge(event); ok {
		t.Error("ordinary event treated as handshake")
	}
	if got := src.DeriveEventType(event); got != "message" {
		t.Errorf("event type = %q, want message", got)
	}
	if got := src.DeriveDeliveryID(event); got != "Ev1" {
		t.Errorf("delivery id = %q, want Ev1", got)
	}
}

func TestFallbackDeliveryIDIsPayloadStable(t *testing.T) {
	r := NewRegistry(config.SecretsConfig{})
	src := lookup(t, r, "datadog")

	// No id fields at all: fall back to a digest of the payload
	a := testRequest(nil, `{"title":"cpu high"}`)
	b := testRequest(nil, `{"title":"cpu high"}`)
	c := testRequest(nil, `{"title":"disk full"}`)

	if src.DeriveDeliveryID(a) != src.DeriveDeliveryID(b) {
		t.Error("identical payloads produced different delivery ids")
	}
	if src.DeriveDeliveryID(a) == src.DeriveDeliveryID(c) {
		t.Error("different payloads produced the same delivery id")
	}
}

func TestVerifyGatedOnSecret(t *testing.T) {
	// No secret configured: verification is skipped entirely
	open := NewRegistry(config.SecretsConfig{})
	if src := lookup(t, open, "github"); src.Verify != nil {
		t.Error("github verifier present without a secret")
	}

	signed := NewRegistry(config.SecretsConfig{GitHubWebhookSecret: "s3cret"})
	src := lookup(t, signed, "github")
	if src.Verify == nil {
		t.Fatal("github verifier missing with a secret configured")
	}

	body := `{"zen":"Design for failure"}`
	good := testRequest(map[string]string{
		"X-Hub-Signature-256": "sha256=" + signHex("s3cret", []byte(body)),
	}, body)
	if err := src.Verify(good); err != nil {
		t.Errorf("valid delivery rejected: %v", err)
	}

	bad := testRequest(map[string]string{
		"X-Hub-Signature-256": "sha256=deadbeef",
	}, body)
	if err := src.Verify(bad); err == nil {
		t.Error("forged delivery accepted")
	}
}

func TestCloudWatchEventType(t *testing.T) {
	r := NewRegistry(config.SecretsConfig{})
	src := lookup(t, r, "cloudwatch")

	alarm := testRequest(
		map[string]string{"X-Amz-Sns-Message-Id": "m-1"},
		`{"Message":"{\"NewStateValue\":\"ALARM\"}"}`)
	if got := src.DeriveEventType(alarm); got != "alarm_alarm" {
		t.Errorf("event type = %q, want alarm_alarm", got)
	}
	if got := src.DeriveDeliveryID(alarm); got != "m-1" {
		t.Errorf("delivery id = %q, want m-1", got)
	}

	confirm := testRequest(
		map[string]string{"X-Amz-Sns-Message-Type": "SubscriptionConfirmation"},
		`{"SubscribeURL":"https://sns.us-east-1.amazonaws.com/confirm"}`)
	if got := src.DeriveEventType(confirm); got != "sns_subscription" {
		t.Errorf("event type = %q", got)
	}
}
