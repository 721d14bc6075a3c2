// Package scoring computes forecast error points. Lower is better and
// zero is a perfect forecast, so a missing observation is represented as
// a pending Score rather than as zero.
package scoring

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/lox/skylineoracle/internal/models"
)

// Conditions holds the four scored quantities in consistent units.
type Conditions struct {
	High      float64
	WindSpeed float64
	WindDir   float64
	Precip    float64
}

// Points returns the rounded error between a forecast and what happened:
// one point per degree, one per wind speed unit, one per degree of
// circular wind direction error and one per 0.01 of precipitation.
func Points(forecast, actual Conditions) int {
	total := math.Abs(forecast.High - actual.High)
	total += math.Abs(forecast.WindSpeed - actual.WindSpeed)
	total += WindDirectionError(forecast.WindDir, actual.WindDir)
	total += math.Abs(forecast.Precip-actual.Precip) * 100
	return int(math.Round(total))
}

// WindDirectionError is the shorter way round the compass between two
// bearings, in [0, 180].
func WindDirectionError(a, b float64) float64 {
	raw := math.Mod(math.Abs(a-b), 360)
	if raw > 180 {
		return 360 - raw
	}
	return raw
}

// CelsiusToFahrenheit converts stored observation temperatures for scoring.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// Score is either pending or an earned number of error points.
type Score struct {
	points int
	graded bool
}

func Pending() Score { return Score{} }

func Earned(points int) Score { return Score{points: points, graded: true} }

func (s Score) IsPending() bool { return !s.graded }

// Points returns the earned points and whether the score is graded.
func (s Score) Points() (int, bool) { return s.points, s.graded }

// Add sums two scores. Pending contributes nothing; the sum is pending
// only when both sides are.
func (s Score) Add(o Score) Score {
	switch {
	case !s.graded:
		return o
	case !o.graded:
		return s
	}
	return Earned(s.points + o.points)
}

func (s Score) String() string {
	if !s.graded {
		return "--"
	}
	return strconv.Itoa(s.points)
}

func (s Score) MarshalJSON() ([]byte, error) {
	if !s.graded {
		return []byte("null"), nil
	}
	return json.Marshal(s.points)
}

// Grade scores a prediction against the observation for the same station
// and date. The observed high is converted from °C to °F here so Points
// never sees mixed units. A nil observation, or one without a daily high,
// is pending.
func Grade(p models.Prediction, obs *models.Observation) Score {
	if obs == nil || !obs.HighC.Valid {
		return Pending()
	}
	forecast := Conditions{
		High:      p.HighF,
		WindSpeed: float64(p.WindSpeedKt),
		WindDir:   float64(p.WindDirDeg),
		Precip:    p.PrecipIn,
	}
	actual := Conditions{
		High:      CelsiusToFahrenheit(obs.HighC.Float64),
		WindSpeed: obs.WindSpeedKt,
		WindDir:   float64(obs.WindDirDeg),
		Precip:    obs.PrecipIn,
	}
	return Earned(Points(forecast, actual))
}
