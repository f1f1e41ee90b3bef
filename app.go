package main

import (
	"context"
	"fmt"
	"net/http"

	"sarkari-pulse/aggregator"
	"sarkari-pulse/config"
	"sarkari-pulse/db"
	"sarkari-pulse/events"
	"sarkari-pulse/fetcher"
	"sarkari-pulse/logger"
	"sarkari-pulse/metrics"
	"sarkari-pulse/strategy"
)

// app holds the wired components shared by every command
type app struct {
	cfg        *config.Config
	store      *db.DB
	broker     *events.Broker
	publisher  events.Publisher
	metrics    *metrics.Metrics
	aggregator *aggregator.Aggregator
	plans      []strategy.Plan
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// newApp opens the store and broadcast transports and builds the aggregator
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := db.NewDB(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	broker := events.NewBroker()
	publisher, err := events.FromConfig(cfg, broker)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to set up broadcast: %w", err)
	}

	m := metrics.New(nil)
	agg := aggregator.New(aggregator.Options{
		Config:     cfg.Aggregator,
		NewSession: sessionFactory(cfg.Aggregator),
		Store:      store,
		Runs:       store,
		Publisher:  publisher,
		Metrics:    m,
	})

	return &app{
		cfg:        cfg,
		store:      store,
		broker:     broker,
		publisher:  publisher,
		metrics:    m,
		aggregator: agg,
		plans:      strategy.Plans(cfg.GetEnabledSources()),
	}, nil
}

func sessionFactory(cfg config.AggregatorConfig) aggregator.SessionFactory {
	return func() (aggregator.Session, error) {
		return fetcher.NewSession(fetcher.SessionOptions{
			UserAgent:  cfg.UserAgent,
			HTTPClient: &http.Client{Timeout: cfg.FetchTimeout},
			Render: fetcher.RenderOptions{
				UserDataDir: cfg.BrowserDataDir,
				Stealth:     cfg.Stealth,
			},
		}), nil
	}
}

func (a *app) Close() {
	log := logger.WithComponent("main")
	if err := a.publisher.Close(); err != nil {
		log.Warn("failed to close broadcast transports", "error", err)
	}
	a.broker.Close()
	if err := a.store.Close(); err != nil {
		log.Warn("failed to close store", "error", err)
	}
}
