package container

import (
	"context"

	"github.com/opsrelay/opsrelay/cmd/gateway/service"
	"github.com/opsrelay/opsrelay/common/bootstrap"
	"github.com/opsrelay/opsrelay/common/policy"
	"github.com/opsrelay/opsrelay/common/publisher"
	"github.com/opsrelay/opsrelay/common/quota"
	"github.com/opsrelay/opsrelay/common/ratelimit"
	"github.com/opsrelay/opsrelay/common/repository"
	"github.com/opsrelay/opsrelay/common/rules"
	"github.com/opsrelay/opsrelay/common/signals"
	"github.com/opsrelay/opsrelay/common/webhook"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	EventRepo     *repository.EventRepository
	ApprovalRepo  *repository.ApprovalRepository
	JobRepo       *repository.JobRepository
	ActionLogRepo *repository.ActionLogRepository
	IdentityRepo  *repository.IdentityRepository
	SignalRepo    *repository.SignalQueryRepository
	DORARepo      *repository.DORARepository

	// Shared infrastructure
	RateLimiter *ratelimit.RateLimiter
	Quotas      *quota.Counters
	RulesLoader *rules.Loader
	PolicyTable *policy.Table
	PolicyEval  *policy.Evaluator
	SignalEval  *signals.Evaluator
	SourceReg   *webhook.Registry

	// Services
	IntakeService   *service.IntakeService
	ApprovalService *service.ApprovalService
	WorkflowService *service.WorkflowService
}

// NewContainer initializes all services and repositories once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Repositories
	eventRepo := repository.NewEventRepository(components.DB)
	approvalRepo := repository.NewApprovalRepository(components.DB)
	jobRepo := repository.NewJobRepository(components.DB)
	actionLogRepo := repository.NewActionLogRepository(components.DB)
	identityRepo := repository.NewIdentityRepository(components.DB)
	signalRepo := repository.NewSignalQueryRepository(components.DB)
	doraRepo := repository.NewDORARepository(components.DB)

	// Shared infrastructure (bottom-up: dependencies first)
	rateLimiter := ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	quotas := quota.New(map[string]int{
		quota.KindSlackPosts:  int(cfg.Quotas.MaxDailySlackPosts),
		quota.KindRAGSearches: int(cfg.Quotas.MaxDailyRAGSearches),
	}, components.Metrics)

	rulesLoader := rules.NewLoader(cfg.Evaluator.RulesPath, log)
	policyTable := policy.NewTable(cfg.Policy.Path, log)
	policyEval := policy.NewEvaluator(policyTable, cfg.Policy.ExternalURL, cfg.Policy.FailClosed, cfg.Policy.Timeout, log)

	signalEval := signals.NewEvaluator(
		rulesLoader,
		signalRepo,
		approvalRepo,
		jobRepo,
		actionLogRepo,
		policyEval,
		cfg.Evaluator.Interval,
		log,
		components.Metrics,
	)
	// Only one replica runs a cycle at a time
	signalEval.UseCycleLock(components.Redis)

	sourceReg := webhook.NewRegistry(cfg.Secrets)
	pub := publisher.New(components.Redis, log, components.Metrics)
	confirmer := webhook.NewSNSConfirmer(cfg.Executors.OutboundTimeout, log)

	// Services
	intakeService := service.NewIntakeService(sourceReg, eventRepo, pub, confirmer, cfg, log, components.Metrics)
	approvalService := service.NewApprovalService(approvalRepo, jobRepo, actionLogRepo, log, components.Metrics)
	workflowService := service.NewWorkflowService(jobRepo, approvalRepo, actionLogRepo, policyEval, log)

	return &Container{
		Components:      components,
		EventRepo:       eventRepo,
		ApprovalRepo:    approvalRepo,
		JobRepo:         jobRepo,
		ActionLogRepo:   actionLogRepo,
		IdentityRepo:    identityRepo,
		SignalRepo:      signalRepo,
		DORARepo:        doraRepo,
		RateLimiter:     rateLimiter,
		Quotas:          quotas,
		RulesLoader:     rulesLoader,
		PolicyTable:     policyTable,
		PolicyEval:      policyEval,
		SignalEval:      signalEval,
		SourceReg:       sourceReg,
		IntakeService:   intakeService,
		ApprovalService: approvalService,
		WorkflowService: workflowService,
	}, nil
}
