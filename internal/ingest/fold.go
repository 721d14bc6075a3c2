package ingest

import (
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/lox/skylineoracle/internal/metar"
	"github.com/lox/skylineoracle/internal/models"
)

// ErrNoTemperature is returned for a report that carries no temperature.
var ErrNoTemperature = errors.New("report has no temperature")

// Reading is a single normalised station report. TempC is required; the
// other fields default to zero when the report omits them.
type Reading struct {
	StationID   string
	TempC       float64
	WindSpeedKt float64
	WindDirDeg  int
	PrecipIn    float64
	ReportedAt  time.Time
}

func ReadingFromReport(r metar.Report) (Reading, error) {
	if r.Temp == nil {
		return Reading{StationID: r.ICAOID}, ErrNoTemperature
	}
	reading := Reading{
		StationID:   r.ICAOID,
		TempC:       *r.Temp,
		WindSpeedKt: r.WindSpeedKt(),
		WindDirDeg:  r.WindDir.DirDeg(),
		PrecipIn:    r.PrecipIn(),
	}
	if t, err := time.Parse(time.RFC3339, r.ReportTime); err == nil {
		reading.ReportedAt = t.UTC()
	}
	return reading, nil
}

// Fold merges a reading into the day's running record. High only rises and
// low only falls; a missing prior high or low is replaced by the reading.
// Wind, precipitation and current temperature always take the latest value.
func Fold(existing *models.Observation, r Reading, date string, now time.Time) models.Observation {
	high, low := r.TempC, r.TempC
	if existing != nil {
		if existing.HighC.Valid {
			high = math.Max(existing.HighC.Float64, r.TempC)
		}
		if existing.LowC.Valid {
			low = math.Min(existing.LowC.Float64, r.TempC)
		}
	}

	return models.Observation{
		StationID:   r.StationID,
		Date:        date,
		CurrentC:    sql.NullFloat64{Float64: r.TempC, Valid: true},
		HighC:       sql.NullFloat64{Float64: high, Valid: true},
		LowC:        sql.NullFloat64{Float64: low, Valid: true},
		WindSpeedKt: r.WindSpeedKt,
		WindDirDeg:  r.WindDirDeg,
		PrecipIn:    r.PrecipIn,
		UpdatedAt:   now.UTC(),
	}
}
