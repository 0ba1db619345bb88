/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/pager"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
)

// ErrRunInProgress is returned when Run is called while another run of the
// same engine has not finished.
var ErrRunInProgress = errors.New("sync run already in progress")

type IssueSource interface {
	RecentIssues(since time.Time) pager.Pager[domain.Issue]
	ByIDs(ids []int64) pager.Pager[domain.Issue]
}

type MirrorSink interface {
	Upsert(ctx context.Context, issues []domain.Issue) error
	DeleteIssue(ctx context.Context, id int64) error
	GetSprintSamples(ctx context.Context) ([]domain.Sprint, error)
	GetSprintDetail(ctx context.Context, id string) (*domain.Sprint, error)
}

type Checkpoint interface {
	Get(ctx context.Context) (time.Time, error)
	Set(ctx context.Context, t time.Time) error
}

type Engine struct {
	source     IssueSource
	sink       MirrorSink
	checkpoint Checkpoint
	reconciler *SprintReconciler
	metrics    *telemetry.Instruments
	log        zerolog.Logger
	running    *semaphore.Weighted
	active     atomic.Bool
	now        func() time.Time
}

func NewEngine(source IssueSource, sink MirrorSink, cp Checkpoint, metrics *telemetry.Instruments, log zerolog.Logger) *Engine {
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	return &Engine{
		source:     source,
		sink:       sink,
		checkpoint: cp,
		reconciler: NewSprintReconciler(source, sink, log),
		metrics:    metrics,
		log:        log,
		running:    semaphore.NewWeighted(1),
		now:        time.Now,
	}
}

type RunStats struct {
	RunID          string        `json:"run_id"`
	Since          time.Time     `json:"since"`
	Checkpoint     time.Time     `json:"checkpoint"`
	Pages          int           `json:"pages"`
	Upserted       int           `json:"upserted"`
	Deleted        int           `json:"deleted"`
	DriftedSprints int           `json:"drifted_sprints"`
	SprintsUpdated int           `json:"sprints_updated"`
	Duration       time.Duration `json:"duration"`
}

// Run pushes everything updated since the checkpoint, then repairs sprint
// membership drift. The checkpoint moves after every page the mirror
// accepted, so a failed run resumes from the last good page.
func (e *Engine) Run(ctx context.Context) (stats RunStats, err error) {
	if !e.running.TryAcquire(1) {
		e.metrics.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "busy")))
		return RunStats{}, ErrRunInProgress
	}
	defer e.running.Release(1)
	e.active.Store(true)
	defer e.active.Store(false)

	stats.RunID = uuid.NewString()
	log := e.log.With().Str("run_id", stats.RunID).Logger()
	start := e.now()
	defer func() {
		stats.Duration = e.now().Sub(start)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			log.Error().Err(err).Msg("engine: run failed")
		} else {
			log.Info().Int("pages", stats.Pages).Int("upserted", stats.Upserted).Int("deleted", stats.Deleted).
				Int("drifted", stats.DriftedSprints).Dur("took", stats.Duration).Msg("engine: run done")
		}
		e.metrics.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		e.metrics.RunDuration.Record(ctx, stats.Duration.Seconds())
	}()

	if err := e.drain(ctx, &stats, log); err != nil {
		return stats, err
	}
	if err := e.reconcile(ctx, &stats, log); err != nil {
		return stats, err
	}
	return stats, nil
}

// Running reports whether a full run is in progress.
func (e *Engine) Running() bool { return e.active.Load() }

func (e *Engine) drain(ctx context.Context, stats *RunStats, log zerolog.Logger) error {
	since, err := e.checkpoint.Get(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	stats.Since, stats.Checkpoint = since, since
	log.Info().Time("since", since).Msg("engine: collecting recent issues")

	pages, err := pager.Drain(ctx, e.source.RecentIssues(since), func(page []domain.Issue) error {
		if err := e.sink.Upsert(ctx, page); err != nil {
			return fmt.Errorf("upsert page: %w", err)
		}
		stats.Upserted += len(page)
		e.metrics.IssuesUpserted.Add(ctx, int64(len(page)))
		e.metrics.Pages.Add(ctx, 1)
		if max := domain.MaxUpdated(page); max.After(stats.Checkpoint) {
			if err := e.checkpoint.Set(ctx, max); err != nil {
				return fmt.Errorf("write checkpoint: %w", err)
			}
			stats.Checkpoint = max
		}
		log.Debug().Int("count", len(page)).Time("checkpoint", stats.Checkpoint).Msg("engine: page stored")
		return nil
	})
	stats.Pages = pages
	return err
}

func (e *Engine) reconcile(ctx context.Context, stats *RunStats, log zerolog.Logger) error {
	drifted, deleted, err := e.reconciler.drift(ctx)
	stats.Deleted += deleted
	e.metrics.IssuesDeleted.Add(ctx, int64(deleted))
	if err != nil {
		return err
	}
	stats.DriftedSprints = len(drifted)
	e.metrics.DriftedSprints.Add(ctx, int64(len(drifted)))
	for _, s := range drifted {
		if err := e.updateSprint(ctx, s.ID, stats, log); err != nil {
			return err
		}
		stats.SprintsUpdated++
	}
	return nil
}

// UpdateIssuesOnDemand pushes issues received outside a run. The checkpoint
// is left alone.
func (e *Engine) UpdateIssuesOnDemand(ctx context.Context, issues []domain.Issue) error {
	_, err := pager.Drain(ctx, pager.Once(issues), func(page []domain.Issue) error {
		if err := e.sink.Upsert(ctx, page); err != nil {
			return fmt.Errorf("upsert issues: %w", err)
		}
		e.metrics.IssuesUpserted.Add(ctx, int64(len(page)))
		return nil
	})
	return err
}

// UpdateSprint refreshes every recorded member of a sprint and deletes the
// members the source no longer has. An unknown or empty sprint is skipped.
func (e *Engine) UpdateSprint(ctx context.Context, id string) error {
	var stats RunStats
	return e.updateSprint(ctx, id, &stats, e.log)
}

func (e *Engine) updateSprint(ctx context.Context, id string, stats *RunStats, log zerolog.Logger) error {
	log = log.With().Str("sprint", id).Logger()
	sprint, err := e.sink.GetSprintDetail(ctx, id)
	if err != nil {
		return fmt.Errorf("sprint %s: %w", id, err)
	}
	if sprint == nil || len(sprint.Issues) == 0 {
		log.Warn().Msg("engine: sprint not found or empty, skipping")
		return nil
	}
	ids := sprint.IssueIDs()
	p := NewDeleteAware(e.source.ByIDs(ids), ids, e.sink)
	_, err = pager.Drain(ctx, p, func(page []domain.Issue) error {
		if err := e.sink.Upsert(ctx, page); err != nil {
			return fmt.Errorf("upsert sprint %s issues: %w", id, err)
		}
		stats.Upserted += len(page)
		e.metrics.IssuesUpserted.Add(ctx, int64(len(page)))
		return nil
	})
	stats.Deleted += p.Deleted()
	e.metrics.IssuesDeleted.Add(ctx, int64(p.Deleted()))
	if err != nil {
		return fmt.Errorf("sprint %s: %w", id, err)
	}
	log.Info().Int("members", len(ids)).Int("deleted", p.Deleted()).Msg("engine: sprint updated")
	return nil
}

func (e *Engine) DeleteIssue(ctx context.Context, id int64) error {
	if err := e.sink.DeleteIssue(ctx, id); err != nil {
		return fmt.Errorf("delete issue %d: %w", id, err)
	}
	e.metrics.IssuesDeleted.Add(ctx, 1)
	return nil
}
