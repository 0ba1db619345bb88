/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/repo"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Engine interface {
	Running() bool
	UpdateIssuesOnDemand(ctx context.Context, issues []domain.Issue) error
	UpdateSprint(ctx context.Context, id string) error
	DeleteIssue(ctx context.Context, id int64) error
}

type Runner interface {
	RunOnce(ctx context.Context, trigger string) (services.RunStats, error)
	LastRun(ctx context.Context) (*repo.LastRun, error)
}

type Handlers struct {
	cfg    config.Config
	log    zerolog.Logger
	eng    Engine
	runner Runner
}

func NewHandlers(cfg config.Config, log zerolog.Logger, eng Engine, runner Runner) *Handlers {
	return &Handlers{cfg: cfg, log: log, eng: eng, runner: runner}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "running": h.eng.Running()})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.runner.LastRun(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if lr == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run recorded"})
		return
	}
	c.JSON(http.StatusOK, lr)
}

func (h *Handlers) RunNow(c *gin.Context) {
	if h.eng.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": services.ErrRunInProgress.Error()})
		return
	}
	// detached from the request so the run outlives it
	go func() {
		if _, err := h.runner.RunOnce(context.Background(), "admin"); err != nil && !errors.Is(err, services.ErrRunInProgress) {
			h.log.Error().Err(err).Msg("http: admin run failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handlers) UpsertIssues(c *gin.Context) {
	var issues []domain.Issue
	if err := c.ShouldBindJSON(&issues); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.eng.UpdateIssuesOnDemand(c.Request.Context(), issues); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upserted": len(issues)})
}

func (h *Handlers) DeleteIssue(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid issue id"})
		return
	}
	if err := h.eng.DeleteIssue(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) SyncSprint(c *gin.Context) {
	id := c.Param("id")
	if err := h.eng.UpdateSprint(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sprint": id, "status": "synced"})
}
