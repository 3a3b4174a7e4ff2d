/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package cycletime reconstructs true cycle times by replaying label-event
// history, falling back to the phase engine's estimate when history is
// unavailable.
package cycletime

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/phase"
)

// EventsFetcher is the slice of the upstream client this engine needs.
type EventsFetcher interface {
	ListLabelEvents(ctx context.Context, projectID, issueIID int64) ([]domain.LabelEvent, error)
}

// maxEventWorkers bounds concurrent label-event fetches per batch.
const maxEventWorkers = 10

// DefaultCacheTTL is how long fetched label events stay valid.
const DefaultCacheTTL = 5 * time.Minute

// Method tags how a cycle time was obtained.
type Method string

const (
	MethodLabelEvents Method = "label_events"
	MethodEstimated   Method = "estimated"
)

// TimelineEntry is the label set of an issue immediately after one event.
type TimelineEntry struct {
	At     time.Time `json:"at"`
	Action domain.LabelEventAction `json:"action"`
	Label  string    `json:"label"`
	Labels []string  `json:"labels"`
}

// Result is one issue's reconstructed cycle time.
type Result struct {
	IssueID       int64           `json:"issueId"`
	WorkStartedAt time.Time       `json:"workStartedAt"`
	CycleTime     int             `json:"cycleTime"`
	LeadTime      int             `json:"leadTime"`
	Method        Method          `json:"method"`
	Timeline      []TimelineEntry `json:"timeline,omitempty"`
}

type cacheEntry struct {
	events    []domain.LabelEvent
	fetchedAt time.Time
}

type Engine struct {
	fetch   EventsFetcher
	phases  *phase.Engine
	log     zerolog.Logger
	ttl     time.Duration
	workers int

	// cache holds the label events per issue id. Refreshes build a new map
	// and swap the pointer atomically; overlapping refreshes are tolerated
	// and the last one wins.
	cache atomic.Pointer[map[int64]cacheEntry]
	mu    sync.Mutex // serializes cache swaps, not reads
}

func NewEngine(f EventsFetcher, p *phase.Engine, log zerolog.Logger, ttl time.Duration, workers int) *Engine {
	if ttl <= 0 { ttl = DefaultCacheTTL }
	if workers <= 0 || workers > maxEventWorkers { workers = maxEventWorkers }
	e := &Engine{fetch: f, phases: p, log: log, ttl: ttl, workers: workers}
	empty := map[int64]cacheEntry{}
	e.cache.Store(&empty)
	return e
}

// CalculateAccurateCycleTime replays the ordered label events of a closed
// issue. Work starts at the first "add" whose label matches a work-start
// phase pattern; without one, creation time is the fallback.
func (e *Engine) CalculateAccurateCycleTime(issue *domain.Issue, events []domain.LabelEvent) Result {
	res := Result{IssueID: issue.ID, Method: MethodLabelEvents}
	closed := time.Now().UTC()
	if issue.ClosedAt != nil { closed = *issue.ClosedAt }
	res.LeadTime = domain.DaysBetween(issue.CreatedAt, closed)

	ordered := append([]domain.LabelEvent{}, events...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })

	current := map[string]bool{}
	for _, l := range issue.Labels { current[l] = true }

	var workStarted time.Time
	for _, ev := range ordered {
		if ev.Action == domain.LabelAdd {
			current[ev.LabelName] = true
			if workStarted.IsZero() && e.phases.MatchesWorkStart(ev.LabelName) {
				workStarted = ev.CreatedAt
			}
		} else {
			delete(current, ev.LabelName)
		}
		res.Timeline = append(res.Timeline, TimelineEntry{
			At: ev.CreatedAt, Action: ev.Action, Label: ev.LabelName, Labels: setToSlice(current),
		})
	}
	if workStarted.IsZero() {
		workStarted = issue.CreatedAt
	}
	res.WorkStartedAt = workStarted
	res.CycleTime = domain.DaysBetween(workStarted, closed)
	if res.CycleTime < 0 { res.CycleTime = 0 }
	if res.CycleTime > res.LeadTime { res.CycleTime = res.LeadTime }
	return res
}

func setToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m { out = append(out, k) }
	sort.Strings(out)
	return out
}

// GetOrFetchLabelEvents returns the cached events for an issue when fresh,
// fetching otherwise. The returned slice is the cached reference itself;
// callers must not mutate it.
func (e *Engine) GetOrFetchLabelEvents(ctx context.Context, issue *domain.Issue) ([]domain.LabelEvent, error) {
	if entry, ok := (*e.cache.Load())[issue.ID]; ok && time.Since(entry.fetchedAt) < e.ttl {
		return entry.events, nil
	}
	events, err := e.fetch.ListLabelEvents(ctx, issue.ProjectID, issue.IID)
	if err != nil { return nil, err }
	e.storeCache(map[int64][]domain.LabelEvent{issue.ID: events})
	return events, nil
}

// storeCache merges fetched events into a fresh map and swaps it in
// atomically at the end of the refresh.
func (e *Engine) storeCache(fetched map[int64][]domain.LabelEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := *e.cache.Load()
	next := make(map[int64]cacheEntry, len(old)+len(fetched))
	now := time.Now()
	for id, entry := range old {
		if now.Sub(entry.fetchedAt) < e.ttl { next[id] = entry }
	}
	for id, evs := range fetched {
		next[id] = cacheEntry{events: evs, fetchedAt: now}
	}
	e.cache.Store(&next)
}

// ClearCache drops every cached label event; the next call refetches.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	empty := map[int64]cacheEntry{}
	e.cache.Store(&empty)
}

// FetchBatchLabelEvents loads label events for every closed issue in the
// batch with bounded concurrency. A failed issue logs a warning and is
// simply absent from the result; the caller falls back to estimation.
func (e *Engine) FetchBatchLabelEvents(ctx context.Context, issues []domain.Issue) map[int64][]domain.LabelEvent {
	type item struct {
		id     int64
		events []domain.LabelEvent
		ok     bool
	}
	var closed []domain.Issue
	for i := range issues {
		if issues[i].Closed() { closed = append(closed, issues[i]) }
	}
	if len(closed) == 0 { return map[int64][]domain.LabelEvent{} }

	jobs := make(chan domain.Issue)
	results := make(chan item, len(closed))
	workers := e.workers
	if len(closed) < workers { workers = len(closed) }
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for is := range jobs {
				evs, err := e.GetOrFetchLabelEvents(ctx, &is)
				if err != nil {
					e.log.Warn().Err(err).Int64("issue", is.ID).Msg("label events fetch failed; will estimate")
					results <- item{id: is.ID}
					continue
				}
				results <- item{id: is.ID, events: evs, ok: true}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, is := range closed {
			select {
			case jobs <- is:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() { wg.Wait(); close(results) }()

	out := map[int64][]domain.LabelEvent{}
	for it := range results {
		if it.ok { out[it.id] = it.events }
	}
	return out
}

// EnhancedStats extends the estimate-only statistics with replay-derived
// numbers and a data-quality percentage.
type EnhancedStats struct {
	Stats          phase.CycleTimeStats `json:"stats"`
	AccurateCount  int                  `json:"accurateCount"`
	EstimatedCount int                  `json:"estimatedCount"`
	DataQuality    float64              `json:"dataQuality"` // % of closed issues with label history
}

// GetEnhancedCycleTimeStats computes cycle times preferring label replay,
// falling back per issue to the phase engine's estimate.
func (e *Engine) GetEnhancedCycleTimeStats(ctx context.Context, issues []domain.Issue, now time.Time) EnhancedStats {
	events := e.FetchBatchLabelEvents(ctx, issues)
	var cycles []int
	var leads []int
	out := EnhancedStats{}
	for i := range issues {
		is := &issues[i]
		leads = append(leads, phase.LeadTime(is, now))
		if !is.Closed() { continue }
		if evs, ok := events[is.ID]; ok {
			res := e.CalculateAccurateCycleTime(is, evs)
			cycles = append(cycles, res.CycleTime)
			out.AccurateCount++
			continue
		}
		if ct, ok := phase.EstimatedCycleTime(is, now); ok {
			cycles = append(cycles, ct)
			out.EstimatedCount++
		}
	}
	out.Stats.LeadTime = phase.Summarize(leads)
	out.Stats.CycleTime = phase.Summarize(cycles)
	if wait := out.Stats.LeadTime.Avg - out.Stats.CycleTime.Avg; wait > 0 { out.Stats.AvgWaitTime = wait }
	if total := out.AccurateCount + out.EstimatedCount; total > 0 {
		out.DataQuality = math.Round(float64(out.AccurateCount)/float64(total)*1000) / 10
	}
	return out
}
