package api

import (
	"database/sql"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lox/skylineoracle/internal/changefeed"
	"github.com/lox/skylineoracle/internal/imagegen"
	"github.com/lox/skylineoracle/internal/metrics"
	"github.com/lox/skylineoracle/internal/models"
	"github.com/lox/skylineoracle/internal/scoring"
)

type healthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health ping", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "error", Error: "database unavailable"})
		return
	}
	version, err := s.store.MigrationVersion()
	if err != nil {
		s.logger.Warn("health migration version", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "error", Error: "schema unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", SchemaVersion: version})
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.store.GetActiveStations(r.Context())
	if err != nil {
		s.internalError(w, r, "get stations", err)
		return
	}
	if stations == nil {
		stations = []models.Station{}
	}
	writeJSON(w, http.StatusOK, stations)
}

// dateParam reads ?date=YYYY-MM-DD, defaulting to today in the game timezone.
func (s *Server) dateParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return s.today().Format(models.DateLayout), true
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		writeError(w, r, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return "", false
	}
	return date, true
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	obs, err := s.store.GetObservationsForDate(r.Context(), date)
	if err != nil {
		s.internalError(w, r, "get observations", err)
		return
	}
	views := make([]observationView, 0, len(obs))
	for _, o := range obs {
		views = append(views, newObservationView(o))
	}
	writeJSON(w, http.StatusOK, views)
}

type leaderboardResponse struct {
	Date    string          `json:"date"`
	Station string          `json:"station"`
	Entries []scoring.Entry `json:"entries"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	station := r.URL.Query().Get("station")
	if station == "" {
		station = scoring.AllStations
	}
	if station != scoring.AllStations && !s.stations[station] {
		writeError(w, r, http.StatusBadRequest, "unknown station "+station)
		return
	}

	entries, err := s.standings.Leaderboard(r.Context(), date, station)
	if err != nil {
		s.internalError(w, r, "leaderboard", err)
		return
	}
	if entries == nil {
		entries = []scoring.Entry{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Date: date, Station: station, Entries: entries})
}

type predictionRequest struct {
	StationID string   `json:"station_id" validate:"required,station"`
	High      *float64 `json:"high" validate:"required,min=-80,max=150"`
	Low       *float64 `json:"low" validate:"omitempty,min=-80,max=150"`
	WindSpeed *int     `json:"wind_speed" validate:"required,min=0,max=200"`
	WindDir   *int     `json:"wind_dir" validate:"required,min=0,max=360"`
	Precip    *float64 `json:"precip" validate:"required,min=0,max=30"`
}

// handleSubmitPrediction accepts a forecast for tomorrow until the local cutoff.
func (s *Server) handleSubmitPrediction(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	now := s.today()
	if now.Hour() >= CutoffHour {
		writeError(w, r, http.StatusForbidden, "submissions for tomorrow closed at 8 PM")
		return
	}

	var req predictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fieldErrors(err), RequestID: requestID(r.Context())})
		return
	}
	if req.Low != nil && *req.Low > *req.High {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     "validation failed",
			Fields:    map[string]string{"low": "must not exceed high"},
			RequestID: requestID(r.Context()),
		})
		return
	}

	p := models.Prediction{
		UserID:         user,
		StationID:      req.StationID,
		PredictionDate: now.AddDate(0, 0, 1).Format(models.DateLayout),
		HighF:          *req.High,
		WindSpeedKt:    *req.WindSpeed,
		WindDirDeg:     *req.WindDir,
		PrecipIn:       math.Round(*req.Precip*100) / 100,
		SubmittedAt:    s.clock.Now().UTC(),
	}
	if req.Low != nil {
		p.LowF = sql.NullFloat64{Float64: *req.Low, Valid: true}
	}

	stored, err := s.store.UpsertPrediction(r.Context(), p)
	if err != nil {
		s.internalError(w, r, "upsert prediction", err)
		return
	}
	metrics.PredictionsSubmitted.WithLabelValues(stored.StationID).Inc()
	s.publish(changefeed.Change{Table: changefeed.Predictions, Date: stored.PredictionDate, StationID: stored.StationID})

	s.logger.Info("prediction submitted",
		zap.String("user", user),
		zap.String("station", stored.StationID),
		zap.String("date", stored.PredictionDate))
	writeJSON(w, http.StatusCreated, newPredictionView(*stored, scoring.Pending()))
}

func (s *Server) handleHallOfFame(w http.ResponseWriter, r *http.Request) {
	winners, err := s.store.GetMonthlyWinners(r.Context())
	if err != nil {
		s.internalError(w, r, "get monthly winners", err)
		return
	}
	if winners == nil {
		winners = []models.MonthlyWinner{}
	}
	writeJSON(w, http.StatusOK, winners)
}

func (s *Server) handleLeaderboardCard(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}

	if data, ok := s.cards.Get(date); ok {
		writePNG(w, data)
		return
	}

	entries, err := s.standings.Leaderboard(r.Context(), date, scoring.AllStations)
	if err != nil {
		s.internalError(w, r, "leaderboard", err)
		return
	}
	data, err := imagegen.RenderLeaderboardCard(imagegen.CardData{Date: date, Entries: entries})
	if err != nil {
		s.internalError(w, r, "render card", err)
		return
	}
	s.cards.Set(date, data)
	writePNG(w, data)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Write(data)
}
