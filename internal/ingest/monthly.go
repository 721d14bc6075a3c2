package ingest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lox/skylineoracle/internal/changefeed"
	"github.com/lox/skylineoracle/internal/metrics"
	"github.com/lox/skylineoracle/internal/models"
	"github.com/lox/skylineoracle/internal/scoring"
	"github.com/lox/skylineoracle/internal/store"
)

// MonthLabelLayout formats hall of fame month labels, e.g. "Feb-2026".
const MonthLabelLayout = "Jan-2006"

// MonthlyReset crowns the month's champion and clears the month's game data.
type MonthlyReset struct {
	store  *store.Store
	feed   Publisher
	clock  clockwork.Clock
	loc    *time.Location
	logger *zap.Logger
}

func NewMonthlyReset(st *store.Store, feed Publisher, clock clockwork.Clock, loc *time.Location, logger *zap.Logger) *MonthlyReset {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonthlyReset{store: st, feed: feed, clock: clock, loc: loc, logger: logger.Named("monthly")}
}

type ResetResult struct {
	Month              string
	Winner             *models.MonthlyWinner
	WinnerRecorded     bool
	PredictionsPurged  int64
	ObservationsPurged int64
}

// PreviousMonth returns the first day of the month before now in the game timezone.
func (m *MonthlyReset) PreviousMonth() time.Time {
	now := m.clock.Now().In(m.loc)
	return time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, m.loc)
}

// Run resets the month containing month. Running it twice for the same
// month records the winner once and purges nothing the second time.
func (m *MonthlyReset) Run(ctx context.Context, month time.Time) (*ResetResult, error) {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, m.loc)
	last := first.AddDate(0, 1, -1)
	start, end := first.Format(models.DateLayout), last.Format(models.DateLayout)
	result := &ResetResult{Month: first.Format(MonthLabelLayout)}

	log := m.logger.With(zap.String("month", result.Month))
	log.Info("starting monthly reset", zap.String("start", start), zap.String("end", end))

	preds, err := m.store.GetPredictionsBetween(ctx, start, end)
	if err != nil {
		metrics.MonthlyResets.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load predictions: %w", err)
	}
	obs, err := m.store.GetObservationsBetween(ctx, start, end)
	if err != nil {
		metrics.MonthlyResets.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load observations: %w", err)
	}

	if champ, ok := Champion(preds, obs); ok {
		names, err := m.store.Usernames(ctx, []string{champ.UserID})
		if err != nil {
			metrics.MonthlyResets.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("load username: %w", err)
		}
		username := names[champ.UserID]
		if username == "" {
			username = champ.UserID
		}
		winner := models.MonthlyWinner{
			UserID:    champ.UserID,
			Username:  username,
			Score:     champ.Average,
			MonthYear: result.Month,
			CreatedAt: m.clock.Now().UTC(),
		}
		recorded, err := m.store.InsertMonthlyWinner(ctx, winner)
		if err != nil {
			metrics.MonthlyResets.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("record winner: %w", err)
		}
		result.Winner = &winner
		result.WinnerRecorded = recorded
		if recorded {
			log.Info("champion crowned", zap.String("user", champ.UserID), zap.Float64("average", champ.Average))
			m.publish(changefeed.Change{Table: changefeed.Winners})
		} else {
			log.Info("winner already recorded")
		}
	} else {
		log.Info("no graded predictions, no champion")
	}

	result.PredictionsPurged, result.ObservationsPurged, err = m.store.PurgeBetween(ctx, start, end)
	if err != nil {
		metrics.MonthlyResets.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("purge month: %w", err)
	}
	if result.PredictionsPurged > 0 {
		m.publish(changefeed.Change{Table: changefeed.Predictions})
	}
	if result.ObservationsPurged > 0 {
		m.publish(changefeed.Change{Table: changefeed.Observations})
	}

	metrics.MonthlyResets.WithLabelValues("ok").Inc()
	log.Info("monthly reset complete",
		zap.Int64("predictions", result.PredictionsPurged),
		zap.Int64("observations", result.ObservationsPurged))
	return result, nil
}

func (m *MonthlyReset) publish(c changefeed.Change) {
	if m.feed != nil {
		m.feed.Publish(c)
	}
}

type ChampionResult struct {
	UserID  string
	Average float64
	Graded  int
}

// Champion picks the user with the lowest average graded error. Ties go to
// the user with more graded forecasts, then the lower user id.
func Champion(preds []models.Prediction, obs []models.Observation) (ChampionResult, bool) {
	byKey := make(map[string]*models.Observation, len(obs))
	for i := range obs {
		byKey[obs[i].StationID+"|"+obs[i].Date] = &obs[i]
	}

	totals := make(map[string]*ChampionResult)
	sums := make(map[string]int)
	for _, p := range preds {
		pts, ok := scoring.Grade(p, byKey[p.StationID+"|"+p.PredictionDate]).Points()
		if !ok {
			continue
		}
		r, exists := totals[p.UserID]
		if !exists {
			r = &ChampionResult{UserID: p.UserID}
			totals[p.UserID] = r
		}
		r.Graded++
		sums[p.UserID] += pts
	}
	if len(totals) == 0 {
		return ChampionResult{}, false
	}

	results := make([]ChampionResult, 0, len(totals))
	for id, r := range totals {
		r.Average = math.Round(float64(sums[id])/float64(r.Graded)*10) / 10
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		ai, bi := float64(sums[a.UserID])/float64(a.Graded), float64(sums[b.UserID])/float64(b.Graded)
		if ai != bi {
			return ai < bi
		}
		if a.Graded != b.Graded {
			return a.Graded > b.Graded
		}
		return a.UserID < b.UserID
	})
	return results[0], true
}
