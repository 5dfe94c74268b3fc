package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"blog-monitor/pkg/alert"
	"blog-monitor/pkg/backfill"
	"blog-monitor/pkg/config"
	"blog-monitor/pkg/content"
	"blog-monitor/pkg/db"
	"blog-monitor/pkg/enrichment"
	"blog-monitor/pkg/httpclient"
	"blog-monitor/pkg/inference"
	"blog-monitor/pkg/ingest"
	"blog-monitor/pkg/lifecycle"
	"blog-monitor/pkg/listing"
	"blog-monitor/pkg/lock"
	"blog-monitor/pkg/metrics"
	"blog-monitor/pkg/scheduler"
	"blog-monitor/pkg/store"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	db      db.DBProvider
	store   *store.Store
	metrics *metrics.Recorder
	alerter alert.Alerter

	fetcher  *httpclient.HTTPClient
	lister   *listing.Extractor
	inferrer inference.Inferrer
	enricher *enrichment.Worker
	locker   lock.Locker
	closers  []func() error
}

func newAlerter(cfg config.AlertsConfig, logger *zap.Logger) alert.Alerter {
	smtpCfg := alert.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.From,
		To:       cfg.To,
	}
	if !smtpCfg.Configured() {
		return alert.NewLog(logger)
	}
	return alert.NewSMTP(smtpCfg, logger)
}

// openStore connects the database only. Commands that never fetch or infer
// use it directly.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewRecorder(),
		alerter: newAlerter(cfg.Alerts, logger),
	}

	d := cfg.Database
	provider, err := db.Open(ctx, db.Config{
		Driver:           d.Driver,
		DSN:              d.DSN,
		SupabaseURL:      d.SupabaseURL,
		SupabaseKey:      d.SupabaseKey,
		SupabasePassword: d.SupabasePassword,
		MaxOpenConns:     d.MaxOpenConns,
		MaxIdleConns:     d.MaxIdleConns,
		ConnMaxIdle:      d.ConnMaxIdle,
		ConnMaxLife:      d.ConnMaxLife,
	})
	if err != nil {
		if aerr := a.alerter.Send(ctx, alert.DatabaseError(err, "connect")); aerr != nil {
			logger.Error("Failed to send alert", zap.Error(aerr))
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = provider
	a.store = store.New(provider)
	a.closers = append(a.closers, provider.Close)
	return a, nil
}

// openApp wires the full pipeline: store, fetch, listing, inference,
// enrichment and locking.
func openApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.fetcher = httpclient.NewClient(httpclient.Config{
		ClientType: httpclient.ClientType(cfg.Fetch.Client),
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    cfg.Fetch.Timeout,
		MaxRetries: cfg.Fetch.MaxRetries,
		RetryDelay: cfg.Fetch.RetryDelay,
	}, logger)
	a.lister = listing.NewExtractor(a.fetcher, logger)
	a.inferrer = newInferrer(cfg.Inference, logger)
	a.enricher = enrichment.NewWorker(a.fetcher, content.NewDefaultExtractor(cfg.Ingest.MinTextLength), a.inferrer, logger)

	switch cfg.Lock.Backend {
	case "redis":
		r, err := lock.NewRedis(ctx, lock.RedisConfig{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
			TTL:      cfg.Lock.TTL,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.locker = r
		a.closers = append(a.closers, r.Close)
	default:
		a.locker = lock.NewMemory()
	}
	return a, nil
}

func newInferrer(cfg config.InferenceConfig, logger *zap.Logger) inference.Inferrer {
	var provider inference.Inferrer
	switch cfg.Provider {
	case "openai":
		provider = inference.NewOpenAIProvider(inference.OpenAIConfig{
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		})
	default:
		provider = inference.NewAnthropicProvider(inference.AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.Endpoint,
			MaxTokens: cfg.MaxTokens,
		})
	}
	return inference.NewClient(provider, inference.ClientConfig{
		MaxAttempts:       cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger)
}

func (a *app) coordinator() *ingest.Coordinator {
	return ingest.NewCoordinator(ingest.Config{
		MaxWorkers:  a.cfg.Ingest.MaxWorkers,
		TaskTimeout: a.cfg.Ingest.TaskTimeout,
	}, ingest.Dependencies{
		Store:    a.store,
		Lister:   a.lister,
		Enricher: a.enricher,
		Locker:   a.locker,
		Observer: a.metrics,
	}, a.logger)
}

func (a *app) lifecycle() *lifecycle.Manager {
	return lifecycle.NewManager(lifecycle.Config{
		MaxRefinements: a.cfg.Lifecycle.MaxRefinements,
		ConfirmWindow:  a.cfg.Lifecycle.ConfirmWindow,
	}, a.store, a.fetcher, a.lister, a.inferrer, a.logger)
}

func (a *app) backfill() *backfill.Runner {
	return backfill.NewRunner(a.store, a.enricher, a.metrics, a.logger)
}

func (a *app) scheduler(runner scheduler.Runner) *scheduler.Scheduler {
	s := a.cfg.Scheduler
	return scheduler.New(scheduler.Config{
		Spec:           s.CheckSpec(),
		MaxAttempts:    s.MaxAttempts,
		InitialBackoff: s.InitialBackoff,
		MaxBackoff:     s.MaxBackoff,
		DigestSpec:     s.DigestSpec,
	}, runner, a.alerter, nil, a.logger)
}

// Close releases connections in reverse order of opening.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	_ = a.logger.Sync()
	return first
}
