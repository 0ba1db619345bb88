/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	apihttp "github.com/BBVA/mirrorgate-jira-stories-collector/internal/http"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/jobs"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg config.Config
		log zerolog.Logger
	)
	root := &cobra.Command{
		Use:           "collector",
		Short:         "Incrementally mirror Jira issues and sprints",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			log = logger.New(cfg)
		},
	}

	// withApp runs fn against a wired app under a signal-cancelled context.
	withApp := func(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				log.Error().Err(err).Msg("startup failed")
				return err
			}
			defer a.close(context.Background())
			if err := fn(ctx, a); err != nil {
				log.Error().Err(err).Str("cmd", cmd.Name()).Msg("command failed")
				return err
			}
			return nil
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the admin API and run the sync on schedule",
			Args:  cobra.NoArgs,
			RunE:  withApp(serve),
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run one full sync and exit",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app) error {
				stats, err := a.runner.RunOnce(ctx, "cli")
				if err != nil {
					return err
				}
				return json.NewEncoder(os.Stdout).Encode(stats)
			}),
		},
		&cobra.Command{
			Use:   "update-sprint <id>",
			Short: "Refresh every recorded member of a sprint",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, a *app) error {
					return a.engine.UpdateSprint(ctx, args[0])
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "delete-issue <id>",
			Short: "Remove one issue from the mirror",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid issue id %q", args[0])
				}
				return withApp(func(ctx context.Context, a *app) error {
					return a.engine.DeleteIssue(ctx, id)
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "push-issues <file.json>",
			Short: "Upsert a JSON list of issues without touching the checkpoint",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				issues, err := readIssues(args[0])
				if err != nil {
					return err
				}
				return withApp(func(ctx context.Context, a *app) error {
					return a.engine.UpdateIssuesOnDemand(ctx, issues)
				})(cmd, args)
			},
		},
	)
	return root
}

func readIssues(path string) ([]domain.Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var issues []domain.Issue
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return issues, nil
}

func serve(ctx context.Context, a *app) error {
	cron, err := jobs.NewCron(a.cfg, a.log, a.runner)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           apihttp.NewRouter(a.cfg, a.log, a.engine, a.runner),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		cron.Start()
		<-gctx.Done()
		a.log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		cron.Stop()
		return err
	})
	return g.Wait()
}
