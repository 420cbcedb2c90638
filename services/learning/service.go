// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package learning assembles the continuous model-improvement pipeline.
//
// This package contains the Service type that coordinates all pipeline
// components: the event bus, the training-example collector, dataset
// export, the fine-tuning orchestrator, the A/B shadow engine, the
// continuous incremental loop, the active-learning queue, telemetry, and
// the HTTP surface.
//
// # Usage
//
//	cfg, err := learning.LoadConfig("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := learning.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package learning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/BecasLan/BecasScore-sub001/pkg/logging"
	"github.com/BecasLan/BecasScore-sub001/services/learning/abtest"
	"github.com/BecasLan/BecasScore-sub001/services/learning/active"
	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
	"github.com/BecasLan/BecasScore-sub001/services/learning/continuous"
	"github.com/BecasLan/BecasScore-sub001/services/learning/dataset"
	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
	"github.com/BecasLan/BecasScore-sub001/services/learning/finetune"
	"github.com/BecasLan/BecasScore-sub001/services/learning/inference"
	"github.com/BecasLan/BecasScore-sub001/services/learning/routes"
	"github.com/BecasLan/BecasScore-sub001/services/learning/storage/badgerstore"
	"github.com/BecasLan/BecasScore-sub001/services/learning/telemetry"
)

// gaugeRefreshInterval is how often pool and queue gauges are resampled.
const gaugeRefreshInterval = 30 * time.Second

// Service is the assembled learning pipeline.
//
// # Description
//
// Service owns every component's lifecycle: New wires them in dependency
// order, Run starts the background loops plus the HTTP server and blocks
// until a shutdown signal, then tears everything down.
//
// # Thread Safety
//
// Safe for concurrent use after New returns. Run must be called at most
// once per instance.
type Service struct {
	cfg    Config
	logger *logging.Logger

	db  *badger.DB
	bus *events.Bus

	collector *collector.Collector
	exporter  *dataset.Exporter
	store     *finetune.JobStore
	orch      *finetune.Orchestrator
	loop      *continuous.Loop
	queue     *active.Queue
	shadow    *abtest.Engine
	metrics   *telemetry.Metrics

	router *gin.Engine
}

// New creates a ready-to-run Service.
//
// # Description
//
// Initializes components in dependency order:
//  1. Structured logging and the event bus
//  2. BadgerDB for durable state
//  3. Collector, exporter, and the inference client
//  4. Fine-tuning orchestrator (trainer + evaluator + job store)
//  5. Optional components: continuous loop, active queue, shadow engine
//  6. Telemetry and the HTTP router
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults; call
//     LoadConfig or Validate first for early failure on bad values.
//
// # Outputs
//
//   - *Service: Ready-to-run pipeline.
//   - error: Non-nil if any component fails to initialize.
func New(cfg Config) (*Service, error) {
	def := DefaultServiceConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = def.ArtifactDir
	}
	if cfg.UpdateDir == "" {
		cfg.UpdateDir = def.UpdateDir
	}
	if cfg.ModelEndpoint == "" {
		cfg.ModelEndpoint = def.ModelEndpoint
	}
	if cfg.ModelAPIKey == "" {
		cfg.ModelAPIKey = def.ModelAPIKey
	}
	if cfg.TrainCommand == "" {
		cfg.TrainCommand = def.TrainCommand
	}
	if cfg.BaseModel == "" {
		cfg.BaseModel = def.BaseModel
	}

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "learning",
		JSON:    cfg.LogJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	s := &Service{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(logger.Logger),
	}

	s.db, err = badgerstore.Open(badgerstore.DefaultConfig(cfg.DataDir))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("open state database: %w", err)
	}

	s.collector = collector.New(collector.Config{
		PoolCapacity: cfg.PoolCapacity,
		Logger:       logger.Logger,
	}, s.bus)
	if err := s.collector.Register(s.bus); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("register collector: %w", err)
	}

	s.exporter = dataset.NewExporter(s.collector, cfg.ArtifactDir, logger.Logger)
	s.store = finetune.NewJobStore(s.db, logger.Logger)

	client, err := inference.NewOpenAIClient(
		cfg.ModelEndpoint, cfg.ModelAPIKey, cfg.ModelTimeout, logger.Logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("initialize inference client: %w", err)
	}

	trainer, err := finetune.NewCLITrainer(
		cfg.TrainCommand, cfg.TrainArgs, cfg.TrainTimeout, logger.Logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("initialize trainer: %w", err)
	}

	evaluator := finetune.NewABEvaluator(
		client, s.bus, cfg.MinTests, cfg.MinWinRate, logger.Logger)

	s.orch = finetune.NewOrchestrator(finetune.Config{
		PollInterval: cfg.PollInterval,
		Thresholds: finetune.Thresholds{
			MinGoldExamples:  cfg.MinGoldExamples,
			MinTotalExamples: cfg.MinTotalExamples,
			MinQualityScore:  cfg.MinQualityScore,
		},
		MinTests:    cfg.MinTests,
		MinWinRate:  cfg.MinWinRate,
		AutoPromote: cfg.AutoPromote,
		Logger:      logger.Logger,
	}, s.collector, s.exporter, trainer, evaluator, s.store, s.bus)
	if err := s.orch.Register(s.bus); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("register orchestrator: %w", err)
	}

	if cfg.ContinuousEnabled {
		s.loop = continuous.NewLoop(continuous.Config{
			Interval:  cfg.ContinuousInterval,
			BaseModel: cfg.BaseModel,
			WorkDir:   cfg.UpdateDir,
			Logger:    logger.Logger,
		}, s.collector, trainer, continuous.NewABValidator(evaluator),
			continuous.NewStateStore(s.db, logger.Logger), s.bus)
	}

	if cfg.ActiveEnabled {
		var notifier active.Notifier
		if cfg.LabelWebhookURL != "" {
			notifier = active.NewWebhookNotifier(cfg.LabelWebhookURL, logger.Logger)
		}
		s.queue = active.New(active.Config{
			UncertaintyThreshold: cfg.UncertaintyThreshold,
			Logger:               logger.Logger,
		}, s.collector, notifier, active.NewBadgerSnapshotter(s.db), s.bus)
		if err := s.queue.Register(s.bus); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("register labeling queue: %w", err)
		}
	}

	if cfg.ShadowEnabled {
		s.shadow = abtest.New(abtest.Config{
			ModelA:       cfg.BaseModel,
			ModelB:       cfg.ShadowCandidate,
			SamplingRate: cfg.SamplingRate,
			MinWinRate:   cfg.MinWinRate,
			Logger:       logger.Logger,
		}, client, s.bus)
		if err := s.shadow.Register(s.bus); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("register shadow engine: %w", err)
		}
	}

	// Per-service registry so tests and multi-instance setups never
	// collide on the global one.
	registry := prometheus.NewRegistry()
	s.metrics = telemetry.New(registry)
	if err := s.metrics.Register(s.bus); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("register telemetry: %w", err)
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	routes.SetupRoutes(s.router, routes.Deps{
		Bus:          s.bus,
		Collector:    s.collector,
		Exporter:     s.exporter,
		JobStore:     s.store,
		Orchestrator: s.orch,
		Queue:        s.queue,
		Loop:         s.loop,
		Shadow:       s.shadow,
		Gatherer:     registry,
		Logger:       logger.Logger,
	})

	return s, nil
}

// Router returns the underlying Gin engine for testing.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run starts every background loop plus the HTTP server.
//
// Description:
//
//	Blocks until SIGINT/SIGTERM or a fatal component error, then shuts
//	the HTTP server down gracefully and releases all resources.
//
// Outputs:
//   - error: Non-nil on a fatal component or server error. A clean
//     signal-driven shutdown returns nil.
func (s *Service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.orch.Run(ctx) })
	if s.loop != nil {
		g.Go(func() error { return s.loop.Run(ctx) })
	}
	if s.queue != nil {
		g.Go(func() error { return s.queue.Run(ctx) })
	}
	if s.shadow != nil {
		g.Go(func() error { return s.shadow.Run(ctx) })
	}
	g.Go(func() error { return s.refreshGauges(ctx) })

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		s.logger.Info("learning pipeline listening", "port", s.cfg.Port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// refreshGauges periodically resamples pool and queue gauges.
func (s *Service) refreshGauges(ctx context.Context) error {
	ticker := time.NewTicker(gaugeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.metrics.UpdatePools(s.collector.Stats())
			if s.queue != nil {
				s.metrics.SetQueueDepth(len(s.queue.Pending()))
			}
		}
	}
}

// cleanup releases all resources held by the service.
func (s *Service) cleanup() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("state database close error", "error", err)
		}
		s.db = nil
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}
