/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, eng Engine, runner Runner) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(cfg, log, eng, runner)

	r.GET("/healthz", h.Healthz)
	admin := r.Group("/admin")
	admin.GET("/last-run", h.LastRun)
	admin.POST("/run", h.RunNow)
	admin.POST("/issues", h.UpsertIssues)
	admin.DELETE("/issues/:id", h.DeleteIssue)
	admin.POST("/sprints/:id/sync", h.SyncSprint)

	return r
}
