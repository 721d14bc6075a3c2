package api

import (
	"database/sql"
	"math"
	"time"

	"github.com/lox/skylineoracle/internal/models"
	"github.com/lox/skylineoracle/internal/scoring"
)

// observationView presents a daily record in °F, the unit players forecast in.
type observationView struct {
	StationID   string    `json:"station_id"`
	Date        string    `json:"date"`
	CurrentF    *float64  `json:"current_f"`
	HighF       *float64  `json:"high_f"`
	LowF        *float64  `json:"low_f"`
	WindSpeedKt float64   `json:"wind_speed_kt"`
	WindDirDeg  int       `json:"wind_dir_deg"`
	PrecipIn    float64   `json:"precip_in"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newObservationView(o models.Observation) observationView {
	return observationView{
		StationID:   o.StationID,
		Date:        o.Date,
		CurrentF:    fahrenheit(o.CurrentC),
		HighF:       fahrenheit(o.HighC),
		LowF:        fahrenheit(o.LowC),
		WindSpeedKt: o.WindSpeedKt,
		WindDirDeg:  o.WindDirDeg,
		PrecipIn:    o.PrecipIn,
		UpdatedAt:   o.UpdatedAt,
	}
}

func fahrenheit(c sql.NullFloat64) *float64 {
	if !c.Valid {
		return nil
	}
	f := math.Round(scoring.CelsiusToFahrenheit(c.Float64)*10) / 10
	return &f
}

type predictionView struct {
	ID          int64         `json:"id"`
	UserID      string        `json:"user_id"`
	StationID   string        `json:"station_id"`
	Date        string        `json:"date"`
	High        float64       `json:"high"`
	Low         *float64      `json:"low"`
	WindSpeed   int           `json:"wind_speed"`
	WindDir     int           `json:"wind_dir"`
	Precip      float64       `json:"precip"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Score       scoring.Score `json:"score"`
}

func newPredictionView(p models.Prediction, score scoring.Score) predictionView {
	v := predictionView{
		ID:          p.ID,
		UserID:      p.UserID,
		StationID:   p.StationID,
		Date:        p.PredictionDate,
		High:        p.HighF,
		WindSpeed:   p.WindSpeedKt,
		WindDir:     p.WindDirDeg,
		Precip:      p.PrecipIn,
		SubmittedAt: p.SubmittedAt,
		Score:       score,
	}
	if p.LowF.Valid {
		low := p.LowF.Float64
		v.Low = &low
	}
	return v
}

type profileView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newProfileView(p models.Profile) profileView {
	return profileView{
		ID:        p.ID,
		Username:  p.Username,
		AvatarURL: p.AvatarURL.String,
		CreatedAt: p.CreatedAt,
	}
}

func newProfileViews(ps []models.Profile) []profileView {
	out := make([]profileView, 0, len(ps))
	for _, p := range ps {
		out = append(out, newProfileView(p))
	}
	return out
}

type profileResponse struct {
	Profile   profileView      `json:"profile"`
	Stats     scoring.Summary  `json:"stats"`
	Followers int              `json:"followers"`
	History   []predictionView `json:"history"`
}
