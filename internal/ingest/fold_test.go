package ingest

import (
	"database/sql"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/skylineoracle/internal/metar"
	"github.com/lox/skylineoracle/internal/models"
)

var foldNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func foldAll(temps ...float64) *models.Observation {
	var obs *models.Observation
	for _, temp := range temps {
		next := Fold(obs, Reading{StationID: "KATL", TempC: temp}, "2026-03-14", foldNow)
		obs = &next
	}
	return obs
}

func TestFold_FirstReading(t *testing.T) {
	obs := Fold(nil, Reading{StationID: "KATL", TempC: 15, WindSpeedKt: 8, WindDirDeg: 270, PrecipIn: 0.1}, "2026-03-14", foldNow)

	assert.Equal(t, "KATL", obs.StationID)
	assert.Equal(t, "2026-03-14", obs.Date)
	assert.Equal(t, 15.0, obs.CurrentC.Float64)
	assert.Equal(t, 15.0, obs.HighC.Float64)
	assert.Equal(t, 15.0, obs.LowC.Float64)
	assert.Equal(t, 8.0, obs.WindSpeedKt)
	assert.Equal(t, 270, obs.WindDirDeg)
	assert.Equal(t, 0.1, obs.PrecipIn)
	assert.True(t, obs.UpdatedAt.Equal(foldNow))
}

func TestFold_RisingThenFalling(t *testing.T) {
	obs := foldAll(15, 20, 10)
	require.NotNil(t, obs)
	assert.Equal(t, 10.0, obs.CurrentC.Float64)
	assert.Equal(t, 20.0, obs.HighC.Float64)
	assert.Equal(t, 10.0, obs.LowC.Float64)
}

func TestFold_Idempotent(t *testing.T) {
	once := foldAll(12, 18)
	twice := Fold(once, Reading{StationID: "KATL", TempC: 18}, "2026-03-14", foldNow)
	assert.Equal(t, *once, twice)
}

func TestFold_OrderIndependentExtremes(t *testing.T) {
	temps := []float64{3.3, -1.7, 8.9, 12.2, 0, 5.6, 12.2, -4.4}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]float64(nil), temps...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		obs := foldAll(shuffled...)
		assert.Equal(t, 12.2, obs.HighC.Float64, "order %v", shuffled)
		assert.Equal(t, -4.4, obs.LowC.Float64, "order %v", shuffled)
	}
}

func TestFold_NullExistingLowAndHigh(t *testing.T) {
	existing := &models.Observation{
		StationID: "KORD",
		Date:      "2026-03-14",
		HighC:     sql.NullFloat64{Float64: 6, Valid: true},
	}
	obs := Fold(existing, Reading{StationID: "KORD", TempC: 2}, "2026-03-14", foldNow)
	assert.Equal(t, 6.0, obs.HighC.Float64)
	assert.Equal(t, 2.0, obs.LowC.Float64)

	existing = &models.Observation{StationID: "KORD", Date: "2026-03-14", LowC: sql.NullFloat64{Float64: -3, Valid: true}}
	obs = Fold(existing, Reading{StationID: "KORD", TempC: 2}, "2026-03-14", foldNow)
	assert.Equal(t, 2.0, obs.HighC.Float64)
	assert.Equal(t, -3.0, obs.LowC.Float64)
}

func TestFold_LatestWindAndPrecipWin(t *testing.T) {
	existing := Fold(nil, Reading{StationID: "KDFW", TempC: 20, WindSpeedKt: 15, WindDirDeg: 180, PrecipIn: 0.3}, "2026-03-14", foldNow)
	obs := Fold(&existing, Reading{StationID: "KDFW", TempC: 21}, "2026-03-14", foldNow.Add(time.Hour))
	assert.Equal(t, 0.0, obs.WindSpeedKt)
	assert.Equal(t, 0, obs.WindDirDeg)
	assert.Equal(t, 0.0, obs.PrecipIn)
	assert.True(t, obs.UpdatedAt.Equal(foldNow.Add(time.Hour)))
}

func TestReadingFromReport(t *testing.T) {
	temp, wspd := 15.6, 9.0
	r, err := ReadingFromReport(metar.Report{
		ICAOID:     "KATL",
		ReportTime: "2026-03-14T15:52:00Z",
		Temp:       &temp,
		WindSpeed:  &wspd,
		WindDir:    metar.Direction{Variable: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "KATL", r.StationID)
	assert.Equal(t, 15.6, r.TempC)
	assert.Equal(t, 9.0, r.WindSpeedKt)
	assert.Equal(t, 0, r.WindDirDeg)
	assert.Equal(t, 0.0, r.PrecipIn)
	assert.Equal(t, time.Date(2026, 3, 14, 15, 52, 0, 0, time.UTC), r.ReportedAt)

	_, err = ReadingFromReport(metar.Report{ICAOID: "KORD"})
	assert.ErrorIs(t, err, ErrNoTemperature)
}
