package forecast

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

// Reliability scores how trustworthy past forecasts have been. Score is nil
// under the minimum completed-sample size.
type Reliability struct {
	Score           *float64 `json:"score"`
	Reason          string   `json:"reason,omitempty"`
	CompletedCount  int      `json:"completedCount"`
	OnTimeRate      float64  `json:"onTimeRate"`      // 0..1
	OverallAccuracy float64  `json:"overallAccuracy"` // 0..100, inverse of mean pct error
	Correlation     string   `json:"correlation"`     // strong | moderate | weak | unknown
}

// ComputeReliability scores the completed forecasts:
// 40 x on-time rate, 30 x accuracy/100, a confidence-correlation bonus of
// 20/12/5, and up to 10 for sample size (full at 20 samples).
func (t *Tracker) ComputeReliability(ctx context.Context) (*Reliability, error) {
	all, err := t.loadAll(ctx)
	if err != nil { return nil, err }
	return scoreReliability(completedOf(all)), nil
}

func completedOf(all []domain.Forecast) []domain.Forecast {
	var out []domain.Forecast
	for _, f := range all {
		if f.Status == domain.ForecastCompleted && f.Accuracy != nil { out = append(out, f) }
	}
	return out
}

func scoreReliability(completed []domain.Forecast) *Reliability {
	r := &Reliability{CompletedCount: len(completed), Correlation: "unknown"}
	if len(completed) < minCompletedForScore {
		r.Reason = "insufficient data: fewer than 5 completed forecasts"
		return r
	}

	onTime := 0
	pctErrSum := 0.0
	for _, f := range completed {
		if f.Accuracy.WasOnTime { onTime++ }
		pctErrSum += f.Accuracy.PercentageError
	}
	r.OnTimeRate = float64(onTime) / float64(len(completed))
	r.OverallAccuracy = math.Max(0, 100-pctErrSum/float64(len(completed)))
	r.Correlation = confidenceCorrelation(completed)

	score := 40*r.OnTimeRate + 30*r.OverallAccuracy/100
	switch r.Correlation {
	case "strong":
		score += 20
	case "moderate":
		score += 12
	case "weak":
		score += 5
	}
	samples := len(completed)
	if samples > 20 { samples = 20 }
	score += 10 * float64(samples) / 20

	rounded := math.Round(score*10) / 10
	r.Score = &rounded
	return r
}

// confidenceCorrelation checks whether high-confidence forecasts actually
// land on time more often than low-confidence ones. Needs at least 3
// samples in each bucket.
func confidenceCorrelation(completed []domain.Forecast) string {
	var hiTotal, hiOnTime, loTotal, loOnTime int
	for _, f := range completed {
		switch {
		case f.ConfidenceScore >= 70:
			hiTotal++
			if f.Accuracy.WasOnTime { hiOnTime++ }
		case f.ConfidenceScore < 50:
			loTotal++
			if f.Accuracy.WasOnTime { loOnTime++ }
		}
	}
	if hiTotal < 3 || loTotal < 3 { return "unknown" }
	gap := float64(hiOnTime)/float64(hiTotal) - float64(loOnTime)/float64(loTotal)
	switch {
	case gap > 0.20:
		return "strong"
	case gap > 0.10:
		return "moderate"
	default:
		return "weak"
	}
}

// MonthlyTrendPoint is one month's forecasting record.
type MonthlyTrendPoint struct {
	Month       string  `json:"month"` // YYYY-MM
	Count       int     `json:"count"`
	OnTimePct   float64 `json:"onTimePct"`
	AvgDaysOff  float64 `json:"avgDaysOff"`
	OnTimeCount int     `json:"onTime"`
	EarlyCount  int     `json:"early"`
	LateCount   int     `json:"late"`
}

// MonthlyTrend groups completed forecasts by creation month and returns the
// most recent months first.
func (t *Tracker) MonthlyTrend(ctx context.Context, months int) ([]MonthlyTrendPoint, error) {
	all, err := t.loadAll(ctx)
	if err != nil { return nil, err }
	byMonth := map[string][]domain.Forecast{}
	for _, f := range completedOf(all) {
		key := f.CreatedAt.UTC().Format("2006-01")
		byMonth[key] = append(byMonth[key], f)
	}
	keys := make([]string, 0, len(byMonth))
	for k := range byMonth { keys = append(keys, k) }
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if months > 0 && len(keys) > months { keys = keys[:months] }

	out := make([]MonthlyTrendPoint, 0, len(keys))
	for _, k := range keys {
		p := MonthlyTrendPoint{Month: k, Count: len(byMonth[k])}
		daysOff := 0
		for _, f := range byMonth[k] {
			abs := f.Accuracy.DiffDays
			if abs < 0 { abs = -abs }
			daysOff += abs
			switch {
			case f.Accuracy.WasOnTime:
				p.OnTimeCount++
			case f.Accuracy.WasEarly:
				p.EarlyCount++
			default:
				p.LateCount++
			}
		}
		p.OnTimePct = math.Round(float64(p.OnTimeCount)/float64(p.Count)*1000) / 10
		p.AvgDaysOff = math.Round(float64(daysOff)/float64(p.Count)*10) / 10
		out = append(out, p)
	}
	return out, nil
}

// withClock overrides the tracker clock in tests.
func (t *Tracker) withClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}
