package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &DB{Pool: pool, log: log}, nil
}

func (d *DB) Close() { d.Pool.Close() }

// Repository is the Postgres-backed local mirror. It implements the issue
// sink, the checkpoint store and the job run log.
type Repository struct {
	db          *DB
	log         zerolog.Logger
	collectorID string
	sampleDays  int
	sampleLimit int
	now         func() time.Time
}

func NewRepository(d *DB, cfg config.Config, log zerolog.Logger) *Repository {
	return &Repository{
		db:          d,
		log:         log,
		collectorID: cfg.CollectorID,
		sampleDays:  cfg.SprintSampleDays,
		sampleLimit: cfg.SprintSampleLimit,
		now:         time.Now,
	}
}

// TryAdvisoryLock takes a session lock on a dedicated connection. The
// connection stays checked out until unlock is called.
func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), ok bool, err error) {
	conn, err := r.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	unlock = func() {
		var released bool
		err := conn.QueryRow(context.Background(), "SELECT pg_advisory_unlock($1)", key).Scan(&released)
		if err != nil || !released {
			r.log.Warn().Err(err).Int64("key", key).Msg("repo: advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

const upsertSprintSQL = `
	INSERT INTO mirror_sprints(id, name, status, start_date, end_date, complete_date, updated_at)
	VALUES($1,$2,$3,$4,$5,$6,now())
	ON CONFLICT(id) DO UPDATE SET
		name=EXCLUDED.name, status=EXCLUDED.status, start_date=EXCLUDED.start_date,
		end_date=EXCLUDED.end_date, complete_date=EXCLUDED.complete_date, updated_at=now()`

const upsertIssueSQL = `
	INSERT INTO mirror_issues(id, jira_key, name, type, status, priority, estimate, sprint_id,
		project_id, project_key, project_name, updated_date, keywords, url, collector_id, synced_at)
	VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now())
	ON CONFLICT(id) DO UPDATE SET
		jira_key=EXCLUDED.jira_key, name=EXCLUDED.name, type=EXCLUDED.type, status=EXCLUDED.status,
		priority=EXCLUDED.priority, estimate=EXCLUDED.estimate, sprint_id=EXCLUDED.sprint_id,
		project_id=EXCLUDED.project_id, project_key=EXCLUDED.project_key, project_name=EXCLUDED.project_name,
		updated_date=EXCLUDED.updated_date, keywords=EXCLUDED.keywords, url=EXCLUDED.url,
		collector_id=EXCLUDED.collector_id, synced_at=now()`

// Upsert writes the batch in one transaction. Each issue's current sprint is
// upserted alongside it; an issue without a sprint is detached.
func (r *Repository) Upsert(ctx context.Context, issues []domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, i := range issues {
		var sprintID *string
		if s := i.Sprint; s != nil {
			b.Queue(upsertSprintSQL, s.ID, s.Name, string(s.Status), s.StartDate, s.EndDate, s.CompleteDate)
			sprintID = &s.ID
		}
		var pid *int64
		var pkey, pname string
		if p := i.Project; p != nil {
			pid, pkey, pname = &p.ID, p.Key, p.Name
		}
		keywords := i.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		b.Queue(upsertIssueSQL, i.ID, i.Key, i.Name, i.Type, i.Status, i.Priority, i.Estimate, sprintID,
			pid, pkey, pname, i.UpdatedDate, keywords, i.URL, r.collectorID)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("repo: upsert %d issues: %w", len(issues), err)
	}
	return tx.Commit(ctx)
}

// DeleteIssue succeeds when the row is already gone.
func (r *Repository) DeleteIssue(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM mirror_issues WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("repo: delete issue %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		r.log.Warn().Int64("issue", id).Msg("repo: issue already deleted")
	}
	return nil
}

const sprintColumns = `id, name, status, start_date, end_date, complete_date`

func scanSprint(row pgx.Row) (domain.Sprint, error) {
	var s domain.Sprint
	var status string
	if err := row.Scan(&s.ID, &s.Name, &status, &s.StartDate, &s.EndDate, &s.CompleteDate); err != nil {
		return s, err
	}
	s.Status = domain.ParseSprintStatus(status)
	return s, nil
}

// GetSprintSamples lists the sprints whose membership is still likely to
// move: every active or future sprint and those closed within the
// configured look-back window.
func (r *Repository) GetSprintSamples(ctx context.Context) ([]domain.Sprint, error) {
	since := r.now().AddDate(0, 0, -r.sampleDays)
	limit := r.sampleLimit
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Pool.Query(ctx, `SELECT `+sprintColumns+` FROM mirror_sprints
		WHERE status IN ('ACTIVE','FUTURE')
		   OR (status='CLOSED' AND coalesce(complete_date, end_date) >= $1)
		ORDER BY CASE status WHEN 'ACTIVE' THEN 0 WHEN 'FUTURE' THEN 1 ELSE 2 END,
			end_date DESC NULLS LAST
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: sprint samples: %w", err)
	}
	sprints, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Sprint, error) { return scanSprint(row) })
	if err != nil {
		return nil, fmt.Errorf("repo: sprint samples: %w", err)
	}
	if len(sprints) == 0 {
		return sprints, nil
	}
	ids := make([]string, len(sprints))
	for i, s := range sprints {
		ids[i] = s.ID
	}
	members, err := r.sprintMembers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sprints {
		sprints[i].Issues = members[sprints[i].ID]
	}
	return sprints, nil
}

// GetSprintDetail returns nil when the sprint is unknown.
func (r *Repository) GetSprintDetail(ctx context.Context, id string) (*domain.Sprint, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+sprintColumns+` FROM mirror_sprints WHERE id=$1`, id)
	s, err := scanSprint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: sprint %s: %w", id, err)
	}
	members, err := r.sprintMembers(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	s.Issues = members[id]
	return &s, nil
}

func (r *Repository) sprintMembers(ctx context.Context, sprintIDs []string) (map[string][]domain.Issue, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, jira_key, name, status, updated_date, sprint_id
		FROM mirror_issues WHERE sprint_id = ANY($1) ORDER BY id`, sprintIDs)
	if err != nil {
		return nil, fmt.Errorf("repo: sprint members: %w", err)
	}
	defer rows.Close()
	out := map[string][]domain.Issue{}
	for rows.Next() {
		var i domain.Issue
		var sid string
		if err := rows.Scan(&i.ID, &i.Key, &i.Name, &i.Status, &i.UpdatedDate, &sid); err != nil {
			return nil, err
		}
		out[sid] = append(out[sid], i)
	}
	return out, rows.Err()
}

// Checkpoint stores the collector's last processed update time in
// collector_status.
type Checkpoint struct{ r *Repository }

func (r *Repository) Checkpoint() *Checkpoint { return &Checkpoint{r: r} }

// Get returns the zero time when the collector has never run.
func (c *Checkpoint) Get(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := c.r.db.Pool.QueryRow(ctx, `SELECT last_execution FROM collector_status WHERE collector_id=$1`, c.r.collectorID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		c.r.log.Info().Msg("repo: no previous execution date; running from the beginning")
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("repo: read checkpoint: %w", err)
	}
	return t, nil
}

// Set never moves the stored checkpoint backwards.
func (c *Checkpoint) Set(ctx context.Context, t time.Time) error {
	_, err := c.r.db.Pool.Exec(ctx, `INSERT INTO collector_status(collector_id, last_execution, updated_at)
		VALUES($1,$2,now())
		ON CONFLICT(collector_id) DO UPDATE SET
			last_execution=GREATEST(collector_status.last_execution, EXCLUDED.last_execution), updated_at=now()`,
		c.r.collectorID, t)
	if err != nil {
		return fmt.Errorf("repo: write checkpoint: %w", err)
	}
	return nil
}

// Job runs
func (r *Repository) StartJobRun(ctx context.Context, trigger string) (int64, error) {
	const q = `INSERT INTO job_runs(collector_id, trigger, started_at, success) VALUES($1,$2,now(),false) RETURNING id`
	var id int64
	if err := r.db.Pool.QueryRow(ctx, q, r.collectorID, trigger).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// RunCounts are the per-run totals recorded in job_runs.
type RunCounts struct {
	RunID          string
	Pages          int
	Upserted       int
	Deleted        int
	DriftedSprints int
	Checkpoint     time.Time
}

func (r *Repository) FinishJobRun(ctx context.Context, id int64, c RunCounts, success bool, errStr string) error {
	var cp *time.Time
	if !c.Checkpoint.IsZero() {
		cp = &c.Checkpoint
	}
	const q = `UPDATE job_runs SET finished_at=now(), run_id=$2, pages=$3, issues_upserted=$4, issues_deleted=$5,
		drifted_sprints=$6, checkpoint=$7, success=$8, error=$9 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, c.RunID, c.Pages, c.Upserted, c.Deleted, c.DriftedSprints, cp, success, errStr)
	return err
}

type LastRun struct {
	RunID          string     `json:"run_id"`
	Trigger        string     `json:"trigger"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	Pages          int        `json:"pages"`
	IssuesUpserted int        `json:"issues_upserted"`
	IssuesDeleted  int        `json:"issues_deleted"`
	DriftedSprints int        `json:"drifted_sprints"`
	Checkpoint     *time.Time `json:"checkpoint"`
	Success        bool       `json:"success"`
	Error          string     `json:"error"`
}

// GetLastRun returns nil when no run was recorded yet.
func (r *Repository) GetLastRun(ctx context.Context) (*LastRun, error) {
	const q = `SELECT coalesce(run_id,''), coalesce(trigger,''), started_at, finished_at,
		coalesce(pages,0), coalesce(issues_upserted,0), coalesce(issues_deleted,0), coalesce(drifted_sprints,0),
		checkpoint, coalesce(success,false), coalesce(error,'')
		FROM job_runs WHERE collector_id=$1 ORDER BY id DESC LIMIT 1`
	lr := &LastRun{}
	err := r.db.Pool.QueryRow(ctx, q, r.collectorID).Scan(&lr.RunID, &lr.Trigger, &lr.StartedAt, &lr.FinishedAt,
		&lr.Pages, &lr.IssuesUpserted, &lr.IssuesDeleted, &lr.DriftedSprints, &lr.Checkpoint, &lr.Success, &lr.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lr, nil
}
