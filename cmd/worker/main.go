package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"atelier/internal/adapter/repo"
	"atelier/internal/agent"
	"atelier/internal/credit"
	"atelier/internal/domain"
	"atelier/internal/executor"
	"atelier/internal/infra"
	"atelier/internal/notify"
	"atelier/internal/pricing"
	"atelier/internal/providers/genai"
	"atelier/internal/storage"
)

const claimPollInterval = 2 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	prices := pricing.Default()
	if cfg.PricingPath != "" {
		prices, err = pricing.Load(cfg.PricingPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.PricingPath).Msg("worker: pricing table failed to load")
		}
	}

	backend, err := genai.NewClient(genai.Options{
		APIKey:     cfg.BackendAPIKey,
		BaseURL:    cfg.BackendBaseURL,
		Model:      cfg.BackendModel,
		Timeout:    cfg.BackendTimeout,
		HTTPClient: &http.Client{Timeout: cfg.BackendTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure backend client")
	}

	var publisher notify.Publisher
	if cfg.RedisURL != "" {
		redisPub, err := notify.NewRedisPublisher(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: redis connection failed")
		}
		defer redisPub.Close()
		publisher = redisPub
	}
	var alerts *notify.AlertDispatcher
	if cfg.AlertWebhookURL != "" {
		alerts = notify.NewAlertDispatcher(&notify.WebhookSender{URL: cfg.AlertWebhookURL}, 0, logger)
	}
	notifier := notify.NewNotifier(publisher, alerts, logger)

	items := repo.NewWorkItemRepository(runner)
	runs := repo.NewAgentRunRepository(runner)
	credits := credit.NewService(repo.NewCreditStore(runner), logger)

	exec := executor.New(items, credits, prices, backend, notifier, fileStore, executor.Config{
		RetryAttempts:         cfg.RetryAttempts,
		RetryBackoff:          cfg.RetryBackoff,
		GenerationConcurrency: int64(cfg.GenerationConcurrency),
	}, logger)

	loop := agent.NewLoop(runs, items, credits, prices, &agent.ScriptedPlanner{}, agent.Toolset(backend, items), notifier, cfg.AgentMaxIterations, logger)

	logger.Info().Msg("worker: started")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		claimItems(ctx, exec, items, domain.QueueClassGeneration, logger)
	}()
	go func() {
		defer wg.Done()
		claimItems(ctx, exec, items, domain.QueueClassLight, logger)
	}()
	go func() {
		defer wg.Done()
		claimRuns(ctx, loop, runs, logger)
	}()
	wg.Wait()
	logger.Info().Msg("worker: stopped")
}

// claimItems pulls work items of one queue class. A concurrency slot is
// acquired before claiming so a claimed item never sits in the validating
// stage waiting for capacity.
func claimItems(ctx context.Context, exec *executor.Executor, items domain.WorkItemRepository, class domain.QueueClass, logger infra.Logger) {
	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := exec.Acquire(ctx, class); err != nil {
			return
		}
		item, err := items.ClaimNext(ctx, class)
		if err != nil {
			exec.Release(class)
			if !errors.Is(err, domain.ErrNoWorkAvailable) {
				logger.Error().Err(err).Str("class", string(class)).Msg("worker: claim failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(claimPollInterval):
			}
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer exec.Release(class)
			exec.Process(ctx, item)
		}()
	}
}

// claimRuns pulls pending agent runs. Each run is sequential internally; runs
// only parallelize across each other.
func claimRuns(ctx context.Context, loop *agent.Loop, runs domain.AgentRunRepository, logger infra.Logger) {
	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		if ctx.Err() != nil {
			return
		}
		run, err := runs.ClaimNext(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNoWorkAvailable) {
				logger.Error().Err(err).Msg("worker: claim run failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(claimPollInterval):
			}
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			loop.Run(ctx, run)
		}()
	}
}
