package service

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opsrelay/opsrelay/common/config"
	"github.com/opsrelay/opsrelay/common/db"
	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/models"
	"github.com/opsrelay/opsrelay/common/repository"
	"github.com/opsrelay/opsrelay/common/telemetry"
)

// approvalServiceForTest wires the service against the database named by
// TEST_DATABASE_URL, skipping when it is unset
func approvalServiceForTest(t *testing.T) *ApprovalService {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	log := logger.New("error", "text")
	if err := db.Migrate(url, log); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg, err := config.Load("approval-service-test")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Database.URL = url

	database, err := db.New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(database.Close)

	return NewApprovalService(
		repository.NewApprovalRepository(database),
		repository.NewJobRepository(database),
		repository.NewActionLogRepository(database),
		log,
		telemetry.New(),
	)
}

func TestProposeDecideLifecycle(t *testing.T) {
	svc := approvalServiceForTest(t)
	ctx := context.Background()

	subject := fmt.Sprintf("acme/api/pull/%d", time.Now().UnixNano())
	approval, err := svc.Propose(ctx, ProposeRequest{
		Subject:         subject,
		Action:          "nudge_chat",
		Risk:            "low",
		ProposedPayload: map[string]interface{}{"kind": "stale_pr", "channel": "#eng-ops"},
		Requester:       "tester",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if approval.TTLSeconds != 86400 {
		t.Errorf("ttl_seconds = %d, want the 86400 default when omitted", approval.TTLSeconds)
	}
	if approval.Status != models.ApprovalPending {
		t.Fatalf("status = %s, want pending", approval.Status)
	}

	result, err := svc.Decide(ctx, approval.ID, DecideRequest{
		Decision:  DecisionApprove,
		DecidedBy: "tester",
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if result.Status != models.ApprovalApproved {
		t.Errorf("decided status = %s, want approved", result.Status)
	}
	if result.JobID == 0 {
		t.Error("approve response missing the enqueued job id")
	}

	// A second decision is a no-op reporting the winner, with no new job
	repeat, err := svc.Decide(ctx, approval.ID, DecideRequest{
		Decision:  DecisionDecline,
		DecidedBy: "latecomer",
	})
	if err != nil {
		t.Fatalf("repeat decide: %v", err)
	}
	if repeat.Status != models.ApprovalApproved {
		t.Errorf("repeat status = %s, want the winner's approved", repeat.Status)
	}
	if repeat.JobID != 0 {
		t.Errorf("repeat decide enqueued job %d", repeat.JobID)
	}
}
