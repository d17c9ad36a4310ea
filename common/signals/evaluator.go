package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/models"
	"github.com/opsrelay/opsrelay/common/policy"
	"github.com/opsrelay/opsrelay/common/repository"
	"github.com/opsrelay/opsrelay/common/rules"
	"github.com/opsrelay/opsrelay/common/telemetry"
)

// dedupWindow bounds repeat proposals for the same (rule, subject)
const dedupWindow = 24 * time.Hour

// cycleLockKey guards evaluation cycles across gateway replicas
const cycleLockKey = "opsrelay:signal_evaluator:cycle"

// cycleLocker is the slice of the Redis client used for the cycle lock
type cycleLocker interface {
	SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// RuleResult is the outcome of evaluating one rule
type RuleResult struct {
	Rule      string               `json:"rule"`
	Kind      string               `json:"kind"`
	Matches   []models.SignalMatch `json:"matches"`
	ElapsedMS int64                `json:"elapsed_ms"`
	Error     string               `json:"error,omitempty"`
}

// Evaluator turns the raw event feed into proposed actions. It runs the
// kind-specific queries, filters matches, asks policy how to proceed, and
// routes each surviving match to either the job queue or an approval.
type Evaluator struct {
	loader    *rules.Loader
	queries   *repository.SignalQueryRepository
	approvals *repository.ApprovalRepository
	jobs      *repository.JobRepository
	actionLog *repository.ActionLogRepository
	policy    *policy.Evaluator
	filter    *Filter
	interval  time.Duration
	lock      cycleLocker
	logger    *logger.Logger
	metrics   *telemetry.Metrics
}

// NewEvaluator wires an evaluator
func NewEvaluator(
	loader *rules.Loader,
	queries *repository.SignalQueryRepository,
	approvals *repository.ApprovalRepository,
	jobs *repository.JobRepository,
	actionLog *repository.ActionLogRepository,
	policyEval *policy.Evaluator,
	interval time.Duration,
	log *logger.Logger,
	metrics *telemetry.Metrics,
) *Evaluator {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Evaluator{
		loader:    loader,
		queries:   queries,
		approvals: approvals,
		jobs:      jobs,
		actionLog: actionLog,
		policy:    policyEval,
		filter:    NewFilter(),
		interval:  interval,
		logger:    log,
		metrics:   metrics,
	}
}

// UseCycleLock makes cycles mutually exclusive across replicas. Without a
// locker every replica evaluates; the proposal dedup keeps that correct but
// wasteful.
func (e *Evaluator) UseCycleLock(lock cycleLocker) {
	e.lock = lock
}

// Start runs evaluation cycles until the context is cancelled
func (e *Evaluator) Start(ctx context.Context) {
	e.logger.Info("signal evaluator started", "interval", e.interval.String())

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("signal evaluator stopped")
			return
		case <-ticker.C:
			if err := e.Cycle(ctx); err != nil {
				e.logger.Error("evaluation cycle failed", "error", err)
			}
		}
	}
}

// Cycle loads the current rules and routes every match. With a cycle lock
// configured, at most one replica runs per interval; a Redis outage degrades
// to unlocked evaluation rather than stopping the evaluator.
func (e *Evaluator) Cycle(ctx context.Context) error {
	if e.lock != nil {
		acquired, err := e.lock.SetNX(ctx, cycleLockKey, "1", e.interval)
		if err != nil {
			e.logger.Warn("cycle lock unavailable, evaluating unlocked", "error", err)
		} else if !acquired {
			e.logger.Debug("cycle lock held elsewhere, skipping")
			return nil
		} else {
			defer func() {
				if err := e.lock.Delete(ctx, cycleLockKey); err != nil {
					e.logger.Warn("failed to release cycle lock", "error", err)
				}
			}()
		}
	}

	ruleList, err := e.loader.Current()
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	results := e.EvaluateRules(ctx, ruleList)
	for i, result := range results {
		if result.Error != "" {
			e.logger.Warn("rule evaluation failed", "rule", result.Rule, "error", result.Error)
			continue
		}
		for _, match := range result.Matches {
			if err := e.route(ctx, ruleList[i], match); err != nil {
				e.logger.Warn("failed to route signal match",
					"rule", result.Rule, "subject", match.Subject, "error", err)
			}
		}
	}
	return nil
}

// EvaluateRules runs every rule and reports per-rule results. Errors are
// carried in the result, never returned; one broken rule must not hide the
// others.
func (e *Evaluator) EvaluateRules(ctx context.Context, ruleList []rules.Rule) []RuleResult {
	results := make([]RuleResult, 0, len(ruleList))
	for _, rule := range ruleList {
		started := time.Now()
		matches, err := e.runRule(ctx, rule)

		result := RuleResult{
			Rule:      rule.Name,
			Kind:      rule.Kind,
			ElapsedMS: time.Since(started).Milliseconds(),
		}
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Matches = e.applyFilter(rule, matches, &result)
		}

		e.metrics.RulesEvaluated.Inc()
		if len(result.Matches) > 0 {
			e.metrics.SignalsMatched.WithLabelValues(rule.Name).Add(float64(len(result.Matches)))
		}
		results = append(results, result)
	}
	return results
}

func (e *Evaluator) runRule(ctx context.Context, rule rules.Rule) ([]models.SignalMatch, error) {
	switch rule.Kind {
	case rules.KindStalePR:
		hours := rule.IntParam("older_than_hours", 48)
		return e.queries.StalePRs(ctx, time.Duration(hours)*time.Hour)
	case rules.KindPRWithoutReview:
		hours := rule.IntParam("older_than_hours", 24)
		return e.queries.PRsWithoutReview(ctx, time.Duration(hours)*time.Hour)
	case rules.KindWIPLimitExceeded:
		return e.queries.WIPOverLimit(ctx, rule.IntParam("limit", 5))
	case rules.KindNoTicketLink:
		return e.queries.PRsWithoutTicketLink(ctx, rule.StringParam("ticket_pattern", `[A-Z]+-[0-9]+`))
	default:
		return nil, fmt.Errorf("unsupported rule kind: %s", rule.Kind)
	}
}

func (e *Evaluator) applyFilter(rule rules.Rule, matches []models.SignalMatch, result *RuleResult) []models.SignalMatch {
	if rule.When == "" {
		return matches
	}

	kept := matches[:0:0]
	for _, match := range matches {
		ok, err := e.filter.Keep(rule.When, match.Context)
		if err != nil {
			result.Error = err.Error()
			return nil
		}
		if ok {
			kept = append(kept, match)
		}
	}
	return kept
}

// route applies policy to one match and either enqueues a job or opens an
// approval. Each routed match gets a proposed audit entry. A recent proposal
// for the same (rule, subject) suppresses the match.
func (e *Evaluator) route(ctx context.Context, rule rules.Rule, match models.SignalMatch) error {
	seen, err := e.actionLog.RecentProposalExists(ctx, rule.Name, match.Subject, dedupWindow)
	if err != nil {
		return fmt.Errorf("failed to check proposal dedup: %w", err)
	}
	if seen {
		return nil
	}

	decision, err := e.policy.Evaluate(ctx, policy.Input{Kind: rule.Kind, Context: match.Context})
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	if !decision.Allow {
		e.logger.Info("policy denied proposal",
			"rule", rule.Name, "subject", match.Subject, "reason", decision.Reason)
		return nil
	}

	payload := map[string]interface{}{
		"rule":    rule.Name,
		"kind":    rule.Kind,
		"context": match.Context,
	}

	switch decision.Mode {
	case policy.ModeAuto:
		job := &models.WorkflowJob{
			RuleKind: rule.Kind,
			Subject:  match.Subject,
			Action:   decision.Action,
			Payload:  payload,
			TraceID:  logger.TraceIDFrom(ctx),
		}
		if err := e.jobs.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
	case policy.ModeAsk, policy.ModeRequireApproval:
		approval := &models.Approval{
			Subject:         match.Subject,
			Action:          decision.Action,
			RiskLevel:       models.RiskLevel(decision.Risk),
			ProposedPayload: payload,
			Requester:       "signal-evaluator",
			TraceID:         logger.TraceIDFrom(ctx),
		}
		if err := e.approvals.Create(ctx, approval); err != nil {
			return fmt.Errorf("failed to create approval: %w", err)
		}
	default:
		return fmt.Errorf("policy returned unknown mode %q", decision.Mode)
	}

	entry := &models.ActionLogEntry{
		RuleName: rule.Name,
		Subject:  match.Subject,
		Action:   decision.Action,
		Outcome:  models.OutcomeProposed,
		Actor:    "signal-evaluator",
		TraceID:  logger.TraceIDFrom(ctx),
		Payload:  payload,
	}
	if err := e.actionLog.Append(ctx, entry); err != nil {
		e.logger.Warn("failed to append audit entry",
			"rule", rule.Name, "subject", match.Subject, "error", err)
	}
	return nil
}
