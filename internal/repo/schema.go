package repo

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS mirror_sprints (
		id            text PRIMARY KEY,
		name          text NOT NULL DEFAULT '',
		status        text NOT NULL DEFAULT '',
		start_date    timestamptz,
		end_date      timestamptz,
		complete_date timestamptz,
		updated_at    timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS mirror_issues (
		id           bigint PRIMARY KEY,
		jira_key     text NOT NULL DEFAULT '',
		name         text NOT NULL DEFAULT '',
		type         text NOT NULL DEFAULT '',
		status       text NOT NULL DEFAULT '',
		priority     text NOT NULL DEFAULT '',
		estimate     double precision,
		sprint_id    text REFERENCES mirror_sprints(id) ON DELETE SET NULL,
		project_id   bigint,
		project_key  text NOT NULL DEFAULT '',
		project_name text NOT NULL DEFAULT '',
		updated_date timestamptz NOT NULL,
		keywords     text[] NOT NULL DEFAULT '{}',
		url          text NOT NULL DEFAULT '',
		collector_id text NOT NULL,
		synced_at    timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS mirror_issues_sprint_idx ON mirror_issues(sprint_id)`,
	`CREATE TABLE IF NOT EXISTS collector_status (
		collector_id   text PRIMARY KEY,
		last_execution timestamptz NOT NULL,
		updated_at     timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS job_runs (
		id              bigserial PRIMARY KEY,
		run_id          text,
		collector_id    text NOT NULL,
		trigger         text,
		started_at      timestamptz NOT NULL,
		finished_at     timestamptz,
		pages           int,
		issues_upserted int,
		issues_deleted  int,
		drifted_sprints int,
		checkpoint      timestamptz,
		success         boolean,
		error           text
	)`,
}

// EnsureSchema creates the mirror tables when they are missing.
func (d *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("repo: ensure schema: %w", err)
		}
	}
	return nil
}
