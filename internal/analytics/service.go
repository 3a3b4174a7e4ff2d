/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package analytics orchestrates the portfolio pipeline: aggregate the
// sources, link epics, run the phase/cycle-time/velocity/RAG engines, and
// track forecasts. It is the single entry point the CLI and HTTP surface
// call into.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/aggregate"
	"github.com/mshams/portfolio-pulse/internal/config"
	"github.com/mshams/portfolio-pulse/internal/cycletime"
	"github.com/mshams/portfolio-pulse/internal/deps"
	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/forecast"
	"github.com/mshams/portfolio-pulse/internal/linker"
	"github.com/mshams/portfolio-pulse/internal/phase"
	"github.com/mshams/portfolio-pulse/internal/rag"
	"github.com/mshams/portfolio-pulse/internal/store"
	"github.com/mshams/portfolio-pulse/internal/velocity"
)

// LLM produces optional stakeholder narratives.
type LLM interface {
	Enabled() bool
	SummarizeEpicHealth(ctx context.Context, health *rag.Health) (string, error)
	SummarizePortfolio(ctx context.Context, healths []*rag.Health) (string, error)
}

// Upstream is the full client contract the pipeline needs; it combines the
// aggregator's fetch surface with label-event access.
type Upstream interface {
	aggregate.Fetcher
	cycletime.EventsFetcher
}

// AssigneeUpdater is the single write-back operation against the upstream
// tracker. It is optional; clients that cannot write simply don't implement
// it.
type AssigneeUpdater interface {
	UpdateIssueAssignee(ctx context.Context, projectID, issueIID, assigneeID int64) error
}

type Service struct {
	cfg      config.Config
	log      zerolog.Logger
	store    store.Store
	upstream Upstream
	llm      LLM

	agg       *aggregate.Aggregator
	linker    *linker.Linker
	phases    *phase.Engine
	cycles    *cycletime.Engine
	velocity  *velocity.Engine
	evaluator *rag.Evaluator
	forecasts *forecast.Tracker

	snapshot *domain.Snapshot // last aggregation of this process
}

func New(cfg config.Config, log zerolog.Logger, st store.Store, up Upstream, llm LLM) *Service {
	phases := phase.NewEngine(nil)
	// The sources file is the source of truth for planned absences; the
	// velocity engine reads them back from the store.
	if len(cfg.Absences) > 0 {
		if err := st.Set(context.Background(), store.KeyAbsences, cfg.Absences); err != nil {
			log.Warn().Err(err).Msg("seeding configured absences failed")
		}
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		store:     st,
		upstream:  up,
		llm:       llm,
		agg:       aggregate.New(cfg, log, up),
		linker:    linker.New(log),
		phases:    phases,
		cycles:    cycletime.NewEngine(up, phases, log, cfg.LabelEventCacheTTL, cfg.MaxEventWorkers),
		velocity:  velocity.NewEngine(st, log, cfg.StaticHoursPerPoint),
		evaluator: rag.NewEvaluator(phases, log),
		forecasts: forecast.NewTracker(st, log),
	}
}

// LastRun is what Aggregate persists after each run.
type LastRun struct {
	At      time.Time            `json:"at"`
	Stats   domain.SnapshotStats `json:"stats"`
	Errors  []string             `json:"errors,omitempty"`
	Partial bool                 `json:"partial"`
}

// Aggregate fetches every configured source, links the snapshot, seeds
// milestone forecasts, and records the run.
func (s *Service) Aggregate(ctx context.Context) (*domain.Snapshot, error) {
	sources, err := s.cfg.EffectiveSources()
	if err != nil { return nil, err }
	snap, err := s.agg.FetchAll(ctx, sources)
	if err != nil { return nil, err }
	s.snapshot = snap

	if _, err := s.forecasts.CaptureFromMilestones(ctx, snap.Milestones, snap.Issues); err != nil {
		s.log.Warn().Err(err).Msg("milestone forecast capture failed")
	}
	lr := LastRun{At: time.Now().UTC(), Stats: snap.Statistics, Errors: snap.Errors, Partial: len(snap.Errors) > 0}
	if err := s.store.Set(ctx, store.KeyLastRun, lr); err != nil {
		s.log.Warn().Err(err).Msg("persisting last run failed")
	}
	return snap, nil
}

// Snapshot returns the current snapshot, aggregating on first use.
func (s *Service) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	if s.snapshot != nil { return s.snapshot, nil }
	return s.Aggregate(ctx)
}

// LastRunInfo reads the persisted record of the most recent aggregation.
func (s *Service) LastRunInfo(ctx context.Context) (*LastRun, error) {
	var lr LastRun
	ok, err := s.store.Get(ctx, store.KeyLastRun, &lr)
	if err != nil { return nil, err }
	if !ok { return nil, fmt.Errorf("analytics: no aggregation has run yet") }
	return &lr, nil
}

// EpicHealth is the evaluation plus the optional narrative.
type EpicHealth struct {
	Health    *rag.Health `json:"health"`
	Narrative string      `json:"narrative,omitempty"`
}

// AnalyzeEpic evaluates one epic's RAG health against snapshot history.
func (s *Service) AnalyzeEpic(ctx context.Context, epicID int64, withNarrative bool) (*EpicHealth, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil { return nil, err }
	var epic *domain.Epic
	for i := range snap.Epics {
		if snap.Epics[i].ID == epicID {
			epic = &snap.Epics[i]
			break
		}
	}
	if epic == nil { return nil, fmt.Errorf("analytics: epic %d not in snapshot: %w", epicID, domain.ErrNotFound) }

	linked := s.linker.Link(snap, deps.BuildGraph(snap.Issues).Outgoing)
	var issues []domain.Issue
	if bucket := linked.EpicIssueMap[epicID]; bucket != nil { issues = bucket.Issues }

	now := time.Now().UTC()
	stats := s.phases.GetCycleTimeStats(snap.Issues, now)
	health := s.evaluator.Evaluate(epic, issues, rag.HistoricalData{
		AvgCycleTime:    stats.CycleTime.Avg,
		MedianCycleTime: stats.CycleTime.Median,
	}, now)

	out := &EpicHealth{Health: health}
	if withNarrative && s.llm != nil && s.llm.Enabled() {
		if text, err := s.llm.SummarizeEpicHealth(ctx, health); err == nil {
			out.Narrative = text
		} else {
			s.log.Warn().Err(err).Msg("narrative generation failed")
		}
	}
	return out, nil
}

// PortfolioSummary ranks every epic's health, worst first, with the
// optional stakeholder narrative attached.
type PortfolioSummary struct {
	Healths   []*rag.Health `json:"healths"`
	Narrative string        `json:"narrative,omitempty"`
}

// PortfolioHealth evaluates every epic in the snapshot, worst first.
func (s *Service) PortfolioHealth(ctx context.Context, withNarrative bool) (*PortfolioSummary, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil { return nil, err }
	linked := s.linker.Link(snap, deps.BuildGraph(snap.Issues).Outgoing)
	now := time.Now().UTC()
	stats := s.phases.GetCycleTimeStats(snap.Issues, now)
	hist := rag.HistoricalData{AvgCycleTime: stats.CycleTime.Avg, MedianCycleTime: stats.CycleTime.Median}

	var out []*rag.Health
	for i := range snap.Epics {
		var issues []domain.Issue
		if bucket := linked.EpicIssueMap[snap.Epics[i].ID]; bucket != nil { issues = bucket.Issues }
		out = append(out, s.evaluator.Evaluate(&snap.Epics[i], issues, hist, now))
	}
	rank := map[string]int{"red": 0, "amber": 1, "green": 2}
	sort.SliceStable(out, func(i, j int) bool {
		if rank[out[i].Status] != rank[out[j].Status] { return rank[out[i].Status] < rank[out[j].Status] }
		return out[i].EpicTitle < out[j].EpicTitle
	})

	summary := &PortfolioSummary{Healths: out}
	if withNarrative && s.llm != nil && s.llm.Enabled() {
		if text, err := s.llm.SummarizePortfolio(ctx, out); err == nil {
			summary.Narrative = text
		} else {
			s.log.Warn().Err(err).Msg("portfolio narrative generation failed")
		}
	}
	return summary, nil
}

// CycleTimeReport combines the summary stats with distribution views.
type CycleTimeReport struct {
	Stats       phase.CycleTimeStats     `json:"stats"`
	Enhanced    *cycletime.EnhancedStats `json:"enhanced,omitempty"`
	Histogram   []phase.HistogramBucket  `json:"histogram"`
	Chart       phase.ControlChart       `json:"controlChart"`
	Bottlenecks []phase.Bottleneck       `json:"bottlenecks"`
}

// CycleTime reports lead/cycle statistics; accurate mode replays label
// events where the upstream exposes them.
func (s *Service) CycleTime(ctx context.Context, accurate bool) (*CycleTimeReport, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil { return nil, err }
	now := time.Now().UTC()
	rep := &CycleTimeReport{
		Stats:       s.phases.GetCycleTimeStats(snap.Issues, now),
		Chart:       s.phases.BuildControlChart(snap.Issues, now),
		Bottlenecks: s.phases.DetectBottlenecks(snap.Issues, now),
	}
	var leads []int
	for i := range snap.Issues { leads = append(leads, phase.LeadTime(&snap.Issues[i], now)) }
	rep.Histogram = phase.Histogram(leads)
	if accurate {
		enhanced := s.cycles.GetEnhancedCycleTimeStats(ctx, snap.Issues, now)
		rep.Enhanced = &enhanced
	}
	return rep, nil
}

// MemberVelocity runs the velocity engine for one member over the snapshot.
func (s *Service) MemberVelocity(ctx context.Context, username string) (*velocity.MemberVelocity, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil { return nil, err }
	weekly := s.cfg.WeeklyHoursDefault
	for _, tm := range s.cfg.Team {
		if tm.Username == username && tm.DefaultCapacity > 0 {
			weekly = tm.DefaultCapacity
			break
		}
	}
	mv := s.velocity.CalculateMemberVelocity(ctx, username, snap.Issues, weekly, velocity.DefaultLookback)
	return &mv, nil
}

// TeamWorkload runs the balancer over the configured team.
func (s *Service) TeamWorkload(ctx context.Context, sprintID string) (*velocity.WorkloadReport, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil { return nil, err }
	rep := s.velocity.AnalyzeWorkload(ctx, snap.Issues, s.cfg.Team, sprintID, nil, s.cfg.WeeklyHoursDefault)
	return &rep, nil
}

// ApplyMove reassigns one issue, carrying out a workload rebalancing move.
func (s *Service) ApplyMove(ctx context.Context, projectID, issueIID, assigneeID int64) error {
	up, ok := s.upstream.(AssigneeUpdater)
	if !ok { return fmt.Errorf("analytics: upstream does not support assignee updates") }
	return up.UpdateIssueAssignee(ctx, projectID, issueIID, assigneeID)
}

// RecordForecast stores a manual forecast.
func (s *Service) RecordForecast(ctx context.Context, typ domain.ForecastType, targetID int64, name string, targetDate time.Time, scope, confidence int) (*domain.Forecast, error) {
	return s.forecasts.RecordForecast(ctx, typ, targetID, name, targetDate, scope, confidence, nil)
}

// CloseForecast records the actual outcome of a forecast.
func (s *Service) CloseForecast(ctx context.Context, id string, actual time.Time, status domain.ForecastStatus) (*domain.Forecast, error) {
	return s.forecasts.UpdateForecastOutcome(ctx, id, actual, status)
}

// Reliability scores historical forecast trustworthiness with the recent
// monthly trend attached.
type ReliabilityReport struct {
	Reliability *forecast.Reliability        `json:"reliability"`
	Trend       []forecast.MonthlyTrendPoint `json:"trend"`
}

func (s *Service) Reliability(ctx context.Context, trendMonths int) (*ReliabilityReport, error) {
	rel, err := s.forecasts.ComputeReliability(ctx)
	if err != nil { return nil, err }
	trend, err := s.forecasts.MonthlyTrend(ctx, trendMonths)
	if err != nil { return nil, err }
	return &ReliabilityReport{Reliability: rel, Trend: trend}, nil
}

// Dependencies reports the dependency graph findings over the snapshot.
type DependencyReport struct {
	Edges       []deps.Edge     `json:"edges"`
	Cycles      []deps.Edge     `json:"cycles"`
	Blocked     []domain.Issue  `json:"blocked"`
	CriticalLen map[int64]int   `json:"criticalPathDepths"`
}

func (s *Service) Dependencies(ctx context.Context) (*DependencyReport, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil { return nil, err }
	g := deps.BuildGraph(snap.Issues)
	return &DependencyReport{
		Edges:       g.Edges,
		Cycles:      g.FindCircularDependencies(),
		Blocked:     deps.BlockedIssues(snap.Issues),
		CriticalLen: g.CriticalPathDepths(),
	}, nil
}
