package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/config"
	"github.com/opsrelay/opsrelay/common/executors"
	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/models"
	"github.com/opsrelay/opsrelay/common/quota"
	"github.com/opsrelay/opsrelay/common/repository"
	"github.com/opsrelay/opsrelay/common/telemetry"
)

// Runner drains the workflow job queue. Each claimed job is dispatched to an
// executor; failures are retried with capped exponential backoff until the
// attempt budget runs out. One bad job never stops the loop.
type Runner struct {
	jobs      *repository.JobRepository
	actionLog *repository.ActionLogRepository
	registry  *executors.Registry
	cfg       config.RunnerConfig
	logger    *logger.Logger
	metrics   *telemetry.Metrics
}

// NewRunner creates a runner
func NewRunner(
	jobs *repository.JobRepository,
	actionLog *repository.ActionLogRepository,
	registry *executors.Registry,
	cfg config.RunnerConfig,
	log *logger.Logger,
	metrics *telemetry.Metrics,
) *Runner {
	return &Runner{
		jobs:      jobs,
		actionLog: actionLog,
		registry:  registry,
		cfg:       cfg,
		logger:    log,
		metrics:   metrics,
	}
}

// Start claims and executes jobs until the context is cancelled. A running
// job finishes before the loop exits.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("runner started",
		"poll_interval", r.cfg.PollInterval.String(),
		"serialize_subjects", r.cfg.SerializeSubjects)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopped")
			return ctx.Err()
		default:
		}

		job, err := r.jobs.Claim(ctx)
		if err != nil {
			r.logger.Error("failed to claim job", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			time.Sleep(r.cfg.PollInterval)
			continue
		}

		r.execute(ctx, job)
	}
}

// execute runs one claimed job to a terminal state or a retry
func (r *Runner) execute(ctx context.Context, job *models.WorkflowJob) {
	log := r.logger.WithJobID(job.ID)

	run := func(ctx context.Context) error {
		_, err := r.registry.Dispatch(ctx, job)
		return err
	}

	var err error
	if r.cfg.SerializeSubjects {
		err = r.jobs.WithSubjectLock(ctx, job.Subject, run)
	} else {
		err = run(ctx)
	}

	if err == nil {
		if markErr := r.jobs.MarkCompleted(ctx, job.ID); markErr != nil {
			log.Error("failed to mark job completed", "error", markErr)
			return
		}
		r.metrics.JobsCompleted.WithLabelValues(job.Action).Inc()
		r.audit(ctx, job, models.OutcomeExecuted, "")
		log.Info("job completed", "action", job.Action, "subject", job.Subject)
		return
	}

	// The claim already bumped attempts; job.Attempts reflects this try.
	if r.retriable(err) && job.Retriable() {
		delay := r.backoff(job.Attempts)
		if requeueErr := r.jobs.RequeueForRetry(ctx, job.ID, err.Error(), delay); requeueErr != nil {
			log.Error("failed to requeue job", "error", requeueErr)
			return
		}
		log.Warn("job failed, retrying",
			"action", job.Action,
			"attempt", job.Attempts,
			"retry_in", delay.String(),
			"error", err)
		return
	}

	if markErr := r.jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
		log.Error("failed to mark job failed", "error", markErr)
		return
	}
	r.metrics.JobsFailed.WithLabelValues(job.Action).Inc()
	r.audit(ctx, job, models.OutcomeFailed, err.Error())
	log.Error("job failed permanently", "action", job.Action, "attempts", job.Attempts, "error", err)
}

// retriable classifies a dispatch error. Quota denials are always permanent.
func (r *Runner) retriable(err error) bool {
	if quota.IsExceeded(err) {
		return false
	}
	return apperrors.IsTransient(err)
}

// backoff doubles from the base per attempt, capped at the configured max
func (r *Runner) backoff(attempt int) time.Duration {
	delay := r.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.cfg.BackoffMax {
			return r.cfg.BackoffMax
		}
	}
	if delay > r.cfg.BackoffMax {
		return r.cfg.BackoffMax
	}
	return delay
}

func (r *Runner) audit(ctx context.Context, job *models.WorkflowJob, outcome models.ActionOutcome, detail string) {
	payload := job.Payload
	if detail != "" {
		payload = map[string]interface{}{
			"job_payload": job.Payload,
			"error":       detail,
		}
	}

	entry := &models.ActionLogEntry{
		RuleName: job.RuleKind,
		Subject:  job.Subject,
		Action:   job.Action,
		Outcome:  outcome,
		Actor:    "runner",
		TraceID:  job.TraceID,
		Payload:  payload,
	}
	if err := r.actionLog.Append(ctx, entry); err != nil {
		r.logger.Warn("failed to append audit entry",
			"job_id", job.ID, "outcome", outcome, "error", err)
	}
}

// Describe reports the executor set, useful at startup
func (r *Runner) Describe() string {
	return fmt.Sprintf("actions=%v", r.registry.Actions())
}
