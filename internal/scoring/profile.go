package scoring

import (
	"math"
	"sort"

	"github.com/lox/skylineoracle/internal/models"
)

const (
	BadgePerfectForecast = "perfect-forecast"
	BadgeSharpshooter    = "sharpshooter"
	BadgeRegular         = "regular"
	BadgeGlobetrotter    = "globetrotter"
	BadgeChampion        = "champion"
)

const (
	sharpshooterMinGraded = 5
	sharpshooterMaxAvg    = 10.0
	regularMinForecasts   = 30
)

// HistoryRow is one prediction with its score, as shown on a profile.
type HistoryRow struct {
	Prediction  models.Prediction
	Observation *models.Observation
	Score       Score
}

type Summary struct {
	TotalForecasts int      `json:"total_forecasts"`
	Graded         int      `json:"graded"`
	AvgError       *float64 `json:"avg_error"`
	BestStation    string   `json:"best_station,omitempty"`
	Badges         []string `json:"badges"`
}

// History grades every prediction against the observation for its
// station and date, newest first.
func History(preds []models.Prediction, obs []models.Observation) []HistoryRow {
	index := make(map[string]*models.Observation, len(obs))
	for i := range obs {
		index[obs[i].StationID+"|"+obs[i].Date] = &obs[i]
	}

	rows := make([]HistoryRow, 0, len(preds))
	for _, p := range preds {
		o := index[p.StationID+"|"+p.PredictionDate]
		rows = append(rows, HistoryRow{Prediction: p, Observation: o, Score: Grade(p, o)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Prediction.PredictionDate != rows[j].Prediction.PredictionDate {
			return rows[i].Prediction.PredictionDate > rows[j].Prediction.PredictionDate
		}
		return rows[i].Prediction.StationID < rows[j].Prediction.StationID
	})
	return rows
}

// Summarize computes profile statistics. Pending rows count towards the
// forecast total only. stationCount is the size of the fixed station set.
func Summarize(rows []HistoryRow, stationCount int, monthlyWins int) Summary {
	s := Summary{TotalForecasts: len(rows), Badges: []string{}}

	type acc struct {
		sum   int
		count int
	}
	perStation := make(map[string]*acc)
	total := 0
	perfect := false

	for _, r := range rows {
		pts, ok := r.Score.Points()
		if !ok {
			continue
		}
		s.Graded++
		total += pts
		if pts == 0 {
			perfect = true
		}
		a, found := perStation[r.Prediction.StationID]
		if !found {
			a = &acc{}
			perStation[r.Prediction.StationID] = a
		}
		a.sum += pts
		a.count++
	}

	if s.Graded > 0 {
		avg := math.Round(float64(total)/float64(s.Graded)*10) / 10
		s.AvgError = &avg
	}

	best := math.Inf(1)
	stations := make([]string, 0, len(perStation))
	for id := range perStation {
		stations = append(stations, id)
	}
	sort.Strings(stations)
	for _, id := range stations {
		a := perStation[id]
		if avg := float64(a.sum) / float64(a.count); avg < best {
			best = avg
			s.BestStation = id
		}
	}

	if perfect {
		s.Badges = append(s.Badges, BadgePerfectForecast)
	}
	if s.Graded >= sharpshooterMinGraded && s.AvgError != nil && *s.AvgError < sharpshooterMaxAvg {
		s.Badges = append(s.Badges, BadgeSharpshooter)
	}
	if s.TotalForecasts >= regularMinForecasts {
		s.Badges = append(s.Badges, BadgeRegular)
	}
	if stationCount > 0 && len(perStation) >= stationCount {
		s.Badges = append(s.Badges, BadgeGlobetrotter)
	}
	if monthlyWins > 0 {
		s.Badges = append(s.Badges, BadgeChampion)
	}
	return s
}
