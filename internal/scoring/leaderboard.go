package scoring

import (
	"sort"
	"time"

	"github.com/lox/skylineoracle/internal/models"
)

// AllStations selects every station when ranking.
const AllStations = "all"

type StationResult struct {
	StationID    string `json:"station_id"`
	PredictionID int64  `json:"prediction_id"`
	Score        Score  `json:"score"`
}

type Entry struct {
	Rank              int             `json:"rank"`
	UserID            string          `json:"user_id"`
	Username          string          `json:"username"`
	Total             Score           `json:"total"`
	StationsCompleted int             `json:"stations_completed"`
	StationsPending   int             `json:"stations_pending"`
	StationCount      int             `json:"station_count"`
	Results           []StationResult `json:"results"`
	LastSubmitted     time.Time       `json:"last_submitted"`
}

// Board is the input to Rank: every prediction and observation for one
// target date.
type Board struct {
	Predictions  []models.Prediction
	Observations []models.Observation
	Station      string
	StationCount int
	Usernames    map[string]string
}

// Rank scores every prediction against its observation and orders users
// by ascending total. Ties go to more stations completed, then the
// earlier latest submission, then user ID. Users with nothing graded yet
// come last, ordered by user ID, and carry no rank.
func Rank(b Board) []Entry {
	byStation := make(map[string]*models.Observation, len(b.Observations))
	for i := range b.Observations {
		byStation[b.Observations[i].StationID] = &b.Observations[i]
	}

	stationCount := b.StationCount
	if b.Station != "" && b.Station != AllStations {
		stationCount = 1
	}

	entries := make(map[string]*Entry)
	for _, p := range b.Predictions {
		if b.Station != "" && b.Station != AllStations && p.StationID != b.Station {
			continue
		}
		e, ok := entries[p.UserID]
		if !ok {
			e = &Entry{
				UserID:       p.UserID,
				Username:     b.Usernames[p.UserID],
				Total:        Pending(),
				StationCount: stationCount,
			}
			entries[p.UserID] = e
		}

		score := Grade(p, byStation[p.StationID])
		if score.IsPending() {
			e.StationsPending++
		} else {
			e.StationsCompleted++
		}
		e.Total = e.Total.Add(score)
		e.Results = append(e.Results, StationResult{StationID: p.StationID, PredictionID: p.ID, Score: score})
		if p.SubmittedAt.After(e.LastSubmitted) {
			e.LastSubmitted = p.SubmittedAt
		}
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		sort.Slice(e.Results, func(i, j int) bool { return e.Results[i].StationID < e.Results[j].StationID })
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })

	for i := range out {
		if out[i].Total.IsPending() {
			break
		}
		if i > 0 && sameStanding(out[i-1], out[i]) {
			out[i].Rank = out[i-1].Rank
			continue
		}
		out[i].Rank = i + 1
	}
	return out
}

func less(a, b Entry) bool {
	ap, aGraded := a.Total.Points()
	bp, bGraded := b.Total.Points()
	if aGraded != bGraded {
		return aGraded
	}
	if !aGraded {
		return a.UserID < b.UserID
	}
	if ap != bp {
		return ap < bp
	}
	if a.StationsCompleted != b.StationsCompleted {
		return a.StationsCompleted > b.StationsCompleted
	}
	if !a.LastSubmitted.Equal(b.LastSubmitted) {
		return a.LastSubmitted.Before(b.LastSubmitted)
	}
	return a.UserID < b.UserID
}

func sameStanding(a, b Entry) bool {
	ap, _ := a.Total.Points()
	bp, _ := b.Total.Points()
	return ap == bp && a.StationsCompleted == b.StationsCompleted
}
