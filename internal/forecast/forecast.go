/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package forecast records delivery forecasts, closes them against actual
// dates, and scores how reliable past forecasting has been.
package forecast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/store"
)

// onTimeToleranceDays is how far an actual may land from the target and
// still count as on time.
const onTimeToleranceDays = 3

// minCompletedForScore is the sample size below which the reliability score
// is withheld.
const minCompletedForScore = 5

type Tracker struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewTracker(st store.Store, log zerolog.Logger) *Tracker {
	return &Tracker{store: st, log: log, now: time.Now}
}

// RecordForecast persists a new pending forecast and returns it.
func (t *Tracker) RecordForecast(ctx context.Context, typ domain.ForecastType, targetID int64, targetName string, targetDate time.Time, scopeSize, confidence int, meta map[string]any) (*domain.Forecast, error) {
	now := t.now().UTC()
	all, err := t.loadAll(ctx)
	if err != nil { return nil, err }
	f := &domain.Forecast{
		ID:              fmt.Sprintf("fc-%d-%d-%d", targetID, now.UnixMilli(), len(all)+1),
		Type:            typ,
		TargetID:        targetID,
		TargetName:      targetName,
		CreatedAt:       now,
		TargetDate:      targetDate.UTC(),
		ScopeSize:       scopeSize,
		ConfidenceScore: confidence,
		Metadata:        meta,
		Status:          domain.ForecastPending,
	}
	all = append(all, *f)
	if err := t.store.Set(ctx, store.KeyForecasts, all); err != nil { return nil, err }
	t.log.Info().Str("forecast", f.ID).Str("target", targetName).Time("target_date", f.TargetDate).Msg("forecast recorded")
	return f, nil
}

// UpdateForecastOutcome closes a forecast with its actual date. Accuracy is
// computed only for completed outcomes.
func (t *Tracker) UpdateForecastOutcome(ctx context.Context, id string, actualDate time.Time, status domain.ForecastStatus) (*domain.Forecast, error) {
	all, err := t.loadAll(ctx)
	if err != nil { return nil, err }
	for i := range all {
		if all[i].ID != id { continue }
		actual := actualDate.UTC()
		all[i].ActualDate = &actual
		all[i].Status = status
		if status == domain.ForecastCompleted {
			acc := computeAccuracy(all[i].TargetDate, actual)
			all[i].Accuracy = &acc
		}
		if err := t.store.Set(ctx, store.KeyForecasts, all); err != nil { return nil, err }
		return &all[i], nil
	}
	return nil, fmt.Errorf("forecast: unknown id %q", id)
}

// computeAccuracy compares target to actual. Positive diff means late.
func computeAccuracy(target, actual time.Time) domain.ForecastAccuracy {
	diff := domain.DaysBetween(target, actual)
	abs := diff
	if abs < 0 { abs = -abs }
	return domain.ForecastAccuracy{
		DiffDays:        diff,
		PercentageError: math.Round(float64(abs)/30*100*10) / 10,
		WasOnTime:       abs <= onTimeToleranceDays,
		WasEarly:        diff < -onTimeToleranceDays,
		WasLate:         diff > onTimeToleranceDays,
	}
}

// CaptureFromMilestones creates a pending forecast for each milestone with a
// due date that has none yet. Confidence follows the progress/runway ladder.
func (t *Tracker) CaptureFromMilestones(ctx context.Context, milestones []domain.Milestone, issues []domain.Issue) ([]domain.Forecast, error) {
	all, err := t.loadAll(ctx)
	if err != nil { return nil, err }
	pending := map[int64]bool{}
	for _, f := range all {
		if f.Type == domain.ForecastMilestone && f.Status == domain.ForecastPending { pending[f.TargetID] = true }
	}
	now := t.now().UTC()

	var created []domain.Forecast
	for _, ms := range milestones {
		if ms.DueDate == nil || pending[ms.ID] { continue }
		total, closed := milestoneProgress(&ms, issues)
		if total == 0 { continue }
		progress := float64(closed) / float64(total) * 100
		daysUntilDue := domain.DaysBetween(now, ms.DueDate.Time)
		confidence := 50
		switch {
		case progress > 80 && daysUntilDue > 0:
			confidence = 85
		case progress > 60 && daysUntilDue > 3:
			confidence = 70
		case progress < 30 && daysUntilDue < 7:
			confidence = 30
		}
		f, err := t.RecordForecast(ctx, domain.ForecastMilestone, ms.ID, ms.Title, ms.DueDate.Time, total-closed, confidence,
			map[string]any{"progress": math.Round(progress), "source": ms.Source})
		if err != nil { return created, err }
		created = append(created, *f)
	}
	return created, nil
}

func milestoneProgress(ms *domain.Milestone, issues []domain.Issue) (total, closed int) {
	for i := range issues {
		is := &issues[i]
		if is.Milestone == nil || is.Milestone.ID != ms.ID { continue }
		total++
		if is.Closed() { closed++ }
	}
	return total, closed
}

func (t *Tracker) loadAll(ctx context.Context) ([]domain.Forecast, error) {
	var all []domain.Forecast
	if _, err := t.store.Get(ctx, store.KeyForecasts, &all); err != nil { return nil, err }
	return all, nil
}

// ListForecasts returns every stored forecast, newest first.
func (t *Tracker) ListForecasts(ctx context.Context) ([]domain.Forecast, error) {
	all, err := t.loadAll(ctx)
	if err != nil { return nil, err }
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}
