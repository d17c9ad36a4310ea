package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsrelay/opsrelay/cmd/runner/worker"
	"github.com/opsrelay/opsrelay/common/bootstrap"
	"github.com/opsrelay/opsrelay/common/executors"
	"github.com/opsrelay/opsrelay/common/quota"
	"github.com/opsrelay/opsrelay/common/repository"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap service components; the runner talks to Postgres only, the
	// broker and rate limiter belong to the gateway.
	components, err := bootstrap.Setup(ctx, "runner", bootstrap.WithoutRedis())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	cfg := components.Config
	log := components.Logger

	jobRepo := repository.NewJobRepository(components.DB)
	actionLogRepo := repository.NewActionLogRepository(components.DB)
	identityRepo := repository.NewIdentityRepository(components.DB)

	quotas := quota.New(map[string]int{
		quota.KindSlackPosts:  int(cfg.Quotas.MaxDailySlackPosts),
		quota.KindRAGSearches: int(cfg.Quotas.MaxDailyRAGSearches),
	}, components.Metrics)

	registry := executors.NewRegistry()
	registry.Register(executors.NewSlackNudger(
		cfg.Executors.SlackBotToken,
		cfg.Executors.SlackDefaultChannel,
		cfg.Executors.OutboundTimeout,
		quotas,
		identityRepo,
		log,
	))
	githubAPI := executors.NewGitHubAPI(ctx, cfg.Executors.GitHubToken, cfg.Executors.OutboundTimeout)
	registry.Register(executors.NewReviewerAssigner(githubAPI))
	registry.Register(executors.NewSummaryCommenter(githubAPI))
	registry.Register(executors.NewIssueCreator(githubAPI))
	registry.Register(executors.NewLabeler(githubAPI))

	runner := worker.NewRunner(jobRepo, actionLogRepo, registry, cfg.Runner, log, components.Metrics)
	log.Info("runner configured", "executors", runner.Describe())

	errChan := make(chan error, 1)
	go func() {
		if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("runner error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Error("runner failed", "error", err)
		os.Exit(1)
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}

	log.Info("runner shutting down gracefully")
}
