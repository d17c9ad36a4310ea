package service

import (
	"net/http"
	"testing"
	"time"

	"github.com/opsrelay/opsrelay/common/config"
	"github.com/opsrelay/opsrelay/common/webhook"
)

func TestNewEventRecordStampsReceivedAt(t *testing.T) {
	registry := webhook.NewRegistry(config.SecretsConfig{})
	source, err := registry.Lookup("github")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	headers := http.Header{}
	headers.Set("X-GitHub-Event", "push")
	headers.Set("X-GitHub-Delivery", "d-1")
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.FixedZone("PDT", -7*3600))

	req := webhook.Request{Headers: headers, Body: []byte(`{"ref":"refs/heads/main"}`), Now: now}
	record := newEventRecord(source, req, "d-1")

	if record.ReceivedAt.IsZero() {
		t.Fatal("record has no received_at; retention would purge it immediately")
	}
	if !record.ReceivedAt.Equal(now) {
		t.Errorf("received_at = %s, want the request time", record.ReceivedAt)
	}
	if record.ReceivedAt.Location() != time.UTC {
		t.Errorf("received_at zone = %s, want UTC", record.ReceivedAt.Location())
	}
	if record.Source != "github" || record.EventType != "push" || record.DeliveryID != "d-1" {
		t.Errorf("record = %+v", record)
	}
}

func TestNewEventRecordDefaultsClock(t *testing.T) {
	registry := webhook.NewRegistry(config.SecretsConfig{})
	source, err := registry.Lookup("datadog")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	// A zero request time still yields a usable timestamp
	record := newEventRecord(source, webhook.Request{Body: []byte(`{}`)}, "dd-1")
	if time.Since(record.ReceivedAt) > time.Minute {
		t.Errorf("received_at = %s, want roughly now", record.ReceivedAt)
	}
}
