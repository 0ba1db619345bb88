/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"fmt"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/adapters/jira"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/adapters/mirror"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/adapters/telegram"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/jobs"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/repo"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/services"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/telemetry"
	"github.com/rs/zerolog"
)

// app holds the wired collector for one process.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	db     *repo.DB
	engine *services.Engine
	runner *jobs.Runner

	shutdownTelemetry func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	shutdown, err := telemetry.Init(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.shutdownTelemetry = shutdown
	metrics, err := telemetry.NewInstruments(telemetry.Meter())
	if err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}

	var repository *repo.Repository
	if cfg.DBDSN != "" {
		a.db, err = repo.Open(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := a.db.EnsureSchema(ctx); err != nil {
			a.close(ctx)
			return nil, err
		}
		repository = repo.NewRepository(a.db, cfg, log)
	}

	mc := mirror.NewClient(cfg, log)
	var sink services.MirrorSink = mc
	if cfg.SinkBackend == config.BackendPostgres {
		sink = repository
	}
	var cp services.Checkpoint = mc
	if cfg.CheckpointBackend == config.BackendPostgres {
		cp = repository.Checkpoint()
	}

	source := jira.NewSource(jira.NewClient(cfg, log), jira.NewMapper(cfg, log), cfg, log)
	a.engine = services.NewEngine(source, sink, cp, metrics, log)

	var store jobs.RunStore
	if repository != nil {
		store = repository
	}
	a.runner = jobs.NewRunner(cfg, log, a.engine, store, telegram.NewClient(cfg, log))

	log.Info().Str("sink", cfg.SinkBackend).Str("checkpoint", cfg.CheckpointBackend).
		Bool("db", repository != nil).Msg("collector ready")
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			a.log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
