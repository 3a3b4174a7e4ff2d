/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/analytics"
	"github.com/mshams/portfolio-pulse/internal/config"
	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/velocity"
)

type service interface {
	Aggregate(ctx context.Context) (*domain.Snapshot, error)
	LastRunInfo(ctx context.Context) (*analytics.LastRun, error)
	AnalyzeEpic(ctx context.Context, epicID int64, withNarrative bool) (*analytics.EpicHealth, error)
	PortfolioHealth(ctx context.Context, withNarrative bool) (*analytics.PortfolioSummary, error)
	CycleTime(ctx context.Context, accurate bool) (*analytics.CycleTimeReport, error)
	MemberVelocity(ctx context.Context, username string) (*velocity.MemberVelocity, error)
	TeamWorkload(ctx context.Context, sprintID string) (*velocity.WorkloadReport, error)
	Dependencies(ctx context.Context) (*analytics.DependencyReport, error)
	RecordForecast(ctx context.Context, typ domain.ForecastType, targetID int64, name string, targetDate time.Time, scope, confidence int) (*domain.Forecast, error)
	Reliability(ctx context.Context, trendMonths int) (*analytics.ReliabilityReport, error)
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.svc.LastRunInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lr)
}

func (h *Handlers) Aggregate(c *gin.Context) {
	// Detached from the request context: aggregation outlives slow clients.
	go func() {
		if _, err := h.svc.Aggregate(context.Background()); err != nil {
			h.log.Error().Err(err).Msg("background aggregation failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handlers) EpicHealth(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad epic id"})
		return
	}
	out, err := h.svc.AnalyzeEpic(c.Request.Context(), id, c.Query("narrative") == "1")
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrNotFound) { status = http.StatusNotFound }
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) PortfolioHealth(c *gin.Context) {
	out, err := h.svc.PortfolioHealth(c.Request.Context(), c.Query("narrative") == "1")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) CycleTime(c *gin.Context) {
	out, err := h.svc.CycleTime(c.Request.Context(), c.Query("accurate") == "1")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) MemberVelocity(c *gin.Context) {
	out, err := h.svc.MemberVelocity(c.Request.Context(), c.Param("user"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) Workload(c *gin.Context) {
	out, err := h.svc.TeamWorkload(c.Request.Context(), c.Query("sprint"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) Dependencies(c *gin.Context) {
	out, err := h.svc.Dependencies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

type recordForecastRequest struct {
	Type       string `json:"type" binding:"required"`
	TargetID   int64  `json:"targetId" binding:"required"`
	TargetName string `json:"targetName"`
	TargetDate string `json:"targetDate" binding:"required"` // YYYY-MM-DD
	ScopeSize  int    `json:"scopeSize"`
	Confidence int    `json:"confidence"`
}

func (h *Handlers) RecordForecast(c *gin.Context) {
	var req recordForecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := domain.ParseDate(req.TargetDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad targetDate, want YYYY-MM-DD"})
		return
	}
	f, err := h.svc.RecordForecast(c.Request.Context(), domain.ForecastType(req.Type), req.TargetID, req.TargetName, target.Time, req.ScopeSize, req.Confidence)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *Handlers) Reliability(c *gin.Context) {
	months := 6
	if v := c.Query("months"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 { months = n }
	}
	out, err := h.svc.Reliability(c.Request.Context(), months)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}
