package models

import (
	"database/sql"
	"time"
)

// DateLayout is the calendar-date key format used for predictions and observations.
const DateLayout = "2006-01-02"

type Station struct {
	StationID string `db:"station_id" json:"station_id"`
	Name      string `db:"name" json:"name"`
	City      string `db:"city" json:"city"`
	Active    bool   `db:"active" json:"active"`
}

// Prediction is one user's forecast for one station and target date.
// Temperatures are °F, wind speed knots, precipitation inches.
type Prediction struct {
	ID             int64           `db:"id"`
	UserID         string          `db:"user_id"`
	StationID      string          `db:"station_id"`
	PredictionDate string          `db:"prediction_date"`
	HighF          float64         `db:"p_high"`
	LowF           sql.NullFloat64 `db:"p_low"`
	WindSpeedKt    int             `db:"p_wind_speed"`
	WindDirDeg     int             `db:"p_wind_dir"`
	PrecipIn       float64         `db:"p_precip"`
	SubmittedAt    time.Time       `db:"submitted_at"`
}

// Observation is the running daily record for one station and calendar date.
// Temperatures are stored in °C as reported by METAR.
type Observation struct {
	StationID   string          `db:"station_id"`
	Date        string          `db:"date"`
	CurrentC    sql.NullFloat64 `db:"current_temp"`
	HighC       sql.NullFloat64 `db:"temp"`
	LowC        sql.NullFloat64 `db:"min_temp"`
	WindSpeedKt float64         `db:"wind_speed"`
	WindDirDeg  int             `db:"wind_dir"`
	PrecipIn    float64         `db:"precip"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

type Profile struct {
	ID        string         `db:"id" json:"id"`
	Username  string         `db:"username" json:"username"`
	AvatarURL sql.NullString `db:"avatar_url" json:"-"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

type Follow struct {
	FollowerID string    `db:"follower_id"`
	FolloweeID string    `db:"followee_id"`
	CreatedAt  time.Time `db:"created_at"`
}

type Comment struct {
	ID           string    `db:"id" json:"id"`
	PredictionID int64     `db:"prediction_id" json:"prediction_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Username     string    `db:"username" json:"username"`
	Text         string    `db:"text" json:"text"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type MonthlyWinner struct {
	ID        int64     `db:"id" json:"-"`
	UserID    string    `db:"user_id" json:"user_id"`
	Username  string    `db:"username" json:"username"`
	Score     float64   `db:"score" json:"score"`
	MonthYear string    `db:"month_year" json:"month_year"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
