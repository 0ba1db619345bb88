package jobs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/repo"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type engine interface {
	Run(ctx context.Context) (services.RunStats, error)
}

// RunStore records runs and guards against a second process running the
// same collector. Only the Postgres backend provides one.
type RunStore interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), ok bool, err error)
	StartJobRun(ctx context.Context, trigger string) (int64, error)
	FinishJobRun(ctx context.Context, id int64, c repo.RunCounts, success bool, errStr string) error
	GetLastRun(ctx context.Context) (*repo.LastRun, error)
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Runner executes one full run with locking, recording and failure
// notification around it.
type Runner struct {
	cfg     config.Config
	log     zerolog.Logger
	engine  engine
	store   RunStore
	notify  Notifier
	lockKey int64

	mu   sync.Mutex
	last *repo.LastRun
}

// NewRunner accepts a nil store or notifier.
func NewRunner(cfg config.Config, log zerolog.Logger, e engine, store RunStore, notify Notifier) *Runner {
	return &Runner{cfg: cfg, log: log, engine: e, store: store, notify: notify, lockKey: lockKey(cfg.CollectorID)}
}

func lockKey(collectorID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("collector:" + collectorID))
	return int64(h.Sum64())
}

// RunOnce returns services.ErrRunInProgress when this or another process is
// already running the collector.
func (r *Runner) RunOnce(ctx context.Context, trigger string) (services.RunStats, error) {
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}
	log := r.log.With().Str("trigger", trigger).Logger()

	var jobID int64
	if r.store != nil {
		unlock, ok, err := r.store.TryAdvisoryLock(ctx, r.lockKey)
		if err != nil {
			log.Error().Err(err).Msg("cron: lock error")
			return services.RunStats{}, fmt.Errorf("advisory lock: %w", err)
		}
		if !ok {
			log.Info().Msg("cron: already running elsewhere")
			return services.RunStats{}, services.ErrRunInProgress
		}
		defer unlock()
		if jobID, err = r.store.StartJobRun(ctx, trigger); err != nil {
			log.Warn().Err(err).Msg("cron: cannot record run start")
		}
	}

	started := time.Now()
	stats, err := r.engine.Run(ctx)
	r.remember(trigger, started, stats, err)
	if errors.Is(err, services.ErrRunInProgress) {
		log.Info().Msg("cron: run already in progress")
	} else if err != nil {
		r.notifyFailure(ctx, stats, err)
	}

	if jobID != 0 {
		counts := repo.RunCounts{
			RunID:          stats.RunID,
			Pages:          stats.Pages,
			Upserted:       stats.Upserted,
			Deleted:        stats.Deleted,
			DriftedSprints: stats.DriftedSprints,
			Checkpoint:     stats.Checkpoint,
		}
		errStr := ""
		if err != nil {
			errStr = err.Error()
		}
		// the run context may have expired
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if ferr := r.store.FinishJobRun(fctx, jobID, counts, err == nil, errStr); ferr != nil {
			log.Warn().Err(ferr).Msg("cron: cannot record run result")
		}
	}
	return stats, err
}

func (r *Runner) remember(trigger string, started time.Time, stats services.RunStats, err error) {
	if errors.Is(err, services.ErrRunInProgress) {
		return
	}
	finished := time.Now()
	lr := &repo.LastRun{
		RunID:          stats.RunID,
		Trigger:        trigger,
		StartedAt:      started,
		FinishedAt:     &finished,
		Pages:          stats.Pages,
		IssuesUpserted: stats.Upserted,
		IssuesDeleted:  stats.Deleted,
		DriftedSprints: stats.DriftedSprints,
		Success:        err == nil,
	}
	if !stats.Checkpoint.IsZero() {
		cp := stats.Checkpoint
		lr.Checkpoint = &cp
	}
	if err != nil {
		lr.Error = err.Error()
	}
	r.mu.Lock()
	r.last = lr
	r.mu.Unlock()
}

// LastRun prefers the recorded job_runs row, which also covers runs made by
// other processes, and falls back to this process's last run.
func (r *Runner) LastRun(ctx context.Context) (*repo.LastRun, error) {
	if r.store != nil {
		return r.store.GetLastRun(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, nil
}

func (r *Runner) notifyFailure(ctx context.Context, stats services.RunStats, err error) {
	if r.notify == nil {
		return
	}
	text := fmt.Sprintf("%s: run %s failed after %d pages: %v", r.cfg.CollectorID, stats.RunID, stats.Pages, err)
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if nerr := r.notify.Notify(nctx, text); nerr != nil {
		r.log.Warn().Err(nerr).Msg("cron: failure notification not sent")
	}
}

type Cron struct {
	cfg    config.Config
	log    zerolog.Logger
	runner *Runner
	c      *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, runner *Runner) (*Cron, error) {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, runner: runner, c: c}
	if _, err := c.AddFunc(cfg.SyncCron, cr.sync); err != nil {
		return nil, fmt.Errorf("cron: bad schedule %q: %w", cfg.SyncCron, err)
	}
	return cr, nil
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop waits for a run in progress to finish.
func (cr *Cron) Stop() { <-cr.c.Stop().Done() }

func (cr *Cron) sync() {
	cr.log.Info().Msg("cron: sync")
	_, _ = cr.runner.RunOnce(context.Background(), "cron")
}
