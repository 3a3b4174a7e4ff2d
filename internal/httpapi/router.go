/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/config"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc service) *gin.Engine {
	if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(cfg, log, svc)

	r.GET("/healthz", h.Healthz)
	r.GET("/admin/last-run", h.LastRun)

	v1 := r.Group("/api/v1")
	v1.POST("/aggregate", h.Aggregate)
	v1.GET("/epics/:id/health", h.EpicHealth)
	v1.GET("/portfolio/health", h.PortfolioHealth)
	v1.GET("/cycle-time", h.CycleTime)
	v1.GET("/velocity/:user", h.MemberVelocity)
	v1.GET("/workload", h.Workload)
	v1.GET("/dependencies", h.Dependencies)
	v1.POST("/forecasts", h.RecordForecast)
	v1.GET("/forecasts/reliability", h.Reliability)

	return r
}
