package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lox/skylineoracle/internal/models"
)

// ErrNotFound is returned by lookups that must match exactly one row.
var ErrNotFound = errors.New("not found")

type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func New(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("store")}
}

// Open opens a SQLite database through the modernc driver, which the
// caller must register with a blank import.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) UpsertStation(ctx context.Context, st models.Station) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO stations (station_id, name, city, active)
		VALUES (:station_id, :name, :city, :active)
		ON CONFLICT(station_id) DO UPDATE SET
			name = excluded.name,
			city = excluded.city,
			active = excluded.active
	`, st)
	return err
}

func (s *Store) GetActiveStations(ctx context.Context) ([]models.Station, error) {
	var stations []models.Station
	err := s.db.SelectContext(ctx, &stations, `
		SELECT station_id, name, city, active FROM stations WHERE active = TRUE ORDER BY station_id
	`)
	return stations, err
}

const observationColumns = `station_id, date, current_temp, temp, min_temp, wind_speed, wind_dir, precip, updated_at`

// GetObservation returns the daily record for a station and date, or nil
// if none has been written yet.
func (s *Store) GetObservation(ctx context.Context, stationID, date string) (*models.Observation, error) {
	var obs models.Observation
	err := s.db.GetContext(ctx, &obs, `
		SELECT `+observationColumns+`
		FROM actual_weather
		WHERE station_id = ? AND date = ?
	`, stationID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// UpsertObservation writes the daily record keyed by (station, date).
// The caller computes high and low; this is the write half of a
// read-modify-write and is not atomic with the preceding read.
func (s *Store) UpsertObservation(ctx context.Context, obs models.Observation) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO actual_weather (`+observationColumns+`)
		VALUES (:station_id, :date, :current_temp, :temp, :min_temp, :wind_speed, :wind_dir, :precip, :updated_at)
		ON CONFLICT(station_id, date) DO UPDATE SET
			current_temp = excluded.current_temp,
			temp = excluded.temp,
			min_temp = excluded.min_temp,
			wind_speed = excluded.wind_speed,
			wind_dir = excluded.wind_dir,
			precip = excluded.precip,
			updated_at = excluded.updated_at
	`, obs)
	return err
}

func (s *Store) GetObservationsForDate(ctx context.Context, date string) ([]models.Observation, error) {
	var obs []models.Observation
	err := s.db.SelectContext(ctx, &obs, `
		SELECT `+observationColumns+`
		FROM actual_weather
		WHERE date = ?
		ORDER BY station_id
	`, date)
	return obs, err
}

// GetObservationsForDates returns every observation whose date is in dates.
func (s *Store) GetObservationsForDates(ctx context.Context, dates []string) ([]models.Observation, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT `+observationColumns+`
		FROM actual_weather
		WHERE date IN (?)
	`, dates)
	if err != nil {
		return nil, err
	}
	var obs []models.Observation
	err = s.db.SelectContext(ctx, &obs, s.db.Rebind(query), args...)
	return obs, err
}

const predictionColumns = `id, user_id, station_id, prediction_date, p_high, p_low, p_wind_speed, p_wind_dir, p_precip, submitted_at`

// UpsertPrediction inserts or overwrites the prediction keyed by
// (user, station, target date) and returns the stored row.
func (s *Store) UpsertPrediction(ctx context.Context, p models.Prediction) (*models.Prediction, error) {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO predictions (user_id, station_id, prediction_date, p_high, p_low, p_wind_speed, p_wind_dir, p_precip, submitted_at)
		VALUES (:user_id, :station_id, :prediction_date, :p_high, :p_low, :p_wind_speed, :p_wind_dir, :p_precip, :submitted_at)
		ON CONFLICT(user_id, station_id, prediction_date) DO UPDATE SET
			p_high = excluded.p_high,
			p_low = excluded.p_low,
			p_wind_speed = excluded.p_wind_speed,
			p_wind_dir = excluded.p_wind_dir,
			p_precip = excluded.p_precip,
			submitted_at = excluded.submitted_at
	`, p)
	if err != nil {
		return nil, err
	}

	var stored models.Prediction
	err = s.db.GetContext(ctx, &stored, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE user_id = ? AND station_id = ? AND prediction_date = ?
	`, p.UserID, p.StationID, p.PredictionDate)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *Store) GetPrediction(ctx context.Context, id int64) (*models.Prediction, error) {
	var p models.Prediction
	err := s.db.GetContext(ctx, &p, `SELECT `+predictionColumns+` FROM predictions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPredictionsForDate returns predictions for a target date. An empty
// stationID returns all stations.
func (s *Store) GetPredictionsForDate(ctx context.Context, date, stationID string) ([]models.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE prediction_date = ?`
	args := []any{date}
	if stationID != "" {
		query += ` AND station_id = ?`
		args = append(args, stationID)
	}
	query += ` ORDER BY id`

	var preds []models.Prediction
	err := s.db.SelectContext(ctx, &preds, query, args...)
	return preds, err
}

func (s *Store) GetUserPredictions(ctx context.Context, userID string) ([]models.Prediction, error) {
	var preds []models.Prediction
	err := s.db.SelectContext(ctx, &preds, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE user_id = ?
		ORDER BY prediction_date DESC, station_id
	`, userID)
	return preds, err
}

// GetPredictionsBetween returns predictions with start <= date <= end.
func (s *Store) GetPredictionsBetween(ctx context.Context, start, end string) ([]models.Prediction, error) {
	var preds []models.Prediction
	err := s.db.SelectContext(ctx, &preds, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE prediction_date >= ? AND prediction_date <= ?
		ORDER BY prediction_date, id
	`, start, end)
	return preds, err
}

func (s *Store) GetObservationsBetween(ctx context.Context, start, end string) ([]models.Observation, error) {
	var obs []models.Observation
	err := s.db.SelectContext(ctx, &obs, `
		SELECT `+observationColumns+`
		FROM actual_weather
		WHERE date >= ? AND date <= ?
		ORDER BY date, station_id
	`, start, end)
	return obs, err
}
