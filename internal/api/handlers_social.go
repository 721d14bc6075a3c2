package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lox/skylineoracle/internal/changefeed"
	"github.com/lox/skylineoracle/internal/models"
	"github.com/lox/skylineoracle/internal/scoring"
	"github.com/lox/skylineoracle/internal/store"
)

const (
	searchMinLength = 2
	searchLimit     = 5
)

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	profile, err := s.store.GetProfile(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "get profile", err)
		return
	}

	preds, err := s.store.GetUserPredictions(ctx, id)
	if err != nil {
		s.internalError(w, r, "get user predictions", err)
		return
	}
	dates := make([]string, 0, len(preds))
	seen := make(map[string]bool)
	for _, p := range preds {
		if !seen[p.PredictionDate] {
			seen[p.PredictionDate] = true
			dates = append(dates, p.PredictionDate)
		}
	}
	obs, err := s.store.GetObservationsForDates(ctx, dates)
	if err != nil {
		s.internalError(w, r, "get observations", err)
		return
	}
	wins, err := s.store.CountMonthlyWins(ctx, id)
	if err != nil {
		s.internalError(w, r, "count monthly wins", err)
		return
	}
	followers, err := s.store.FollowerCount(ctx, id)
	if err != nil {
		s.internalError(w, r, "count followers", err)
		return
	}

	rows := scoring.History(preds, obs)
	history := make([]predictionView, 0, len(rows))
	for _, row := range rows {
		history = append(history, newPredictionView(row.Prediction, row.Score))
	}

	writeJSON(w, http.StatusOK, profileResponse{
		Profile:   newProfileView(*profile),
		Stats:     scoring.Summarize(rows, len(s.stations), wins),
		Followers: followers,
		History:   history,
	})
}

type profileRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=24,username"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url,max=512"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fieldErrors(err), RequestID: requestID(r.Context())})
		return
	}

	p := models.Profile{
		ID:        user,
		Username:  req.Username,
		AvatarURL: sql.NullString{String: req.AvatarURL, Valid: req.AvatarURL != ""},
		CreatedAt: s.clock.Now().UTC(),
	}
	err := s.store.UpsertProfile(r.Context(), p)
	if errors.Is(err, store.ErrUsernameTaken) {
		writeError(w, r, http.StatusConflict, "username already taken")
		return
	}
	if err != nil {
		s.internalError(w, r, "upsert profile", err)
		return
	}
	s.publish(changefeed.Change{Table: changefeed.Profiles})

	stored, err := s.store.GetProfile(r.Context(), user)
	if err != nil {
		s.internalError(w, r, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(*stored))
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len([]rune(q)) < searchMinLength {
		writeJSON(w, http.StatusOK, []profileView{})
		return
	}
	profiles, err := s.store.SearchProfiles(r.Context(), q, searchLimit)
	if err != nil {
		s.internalError(w, r, "search profiles", err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileViews(profiles))
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	target := r.PathValue("id")
	if target == user {
		writeError(w, r, http.StatusBadRequest, "cannot follow yourself")
		return
	}
	if _, err := s.store.GetProfile(r.Context(), target); errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "profile not found")
		return
	} else if err != nil {
		s.internalError(w, r, "get profile", err)
		return
	}

	if err := s.store.Follow(r.Context(), models.Follow{FollowerID: user, FolloweeID: target, CreatedAt: s.clock.Now().UTC()}); err != nil {
		s.internalError(w, r, "follow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.store.Unfollow(r.Context(), user, r.PathValue("id")); err != nil {
		s.internalError(w, r, "unfollow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.Following(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, "following", err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileViews(profiles))
}

func (s *Server) predictionParam(w http.ResponseWriter, r *http.Request) (*models.Prediction, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid prediction id")
		return nil, false
	}
	p, err := s.store.GetPrediction(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "prediction not found")
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, "get prediction", err)
		return nil, false
	}
	return p, true
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	p, ok := s.predictionParam(w, r)
	if !ok {
		return
	}
	comments, err := s.store.GetComments(r.Context(), p.ID)
	if err != nil {
		s.internalError(w, r, "get comments", err)
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

type commentRequest struct {
	Text string `json:"text" validate:"required,max=500"`
}

func (s *Server) handlePostComment(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	p, ok := s.predictionParam(w, r)
	if !ok {
		return
	}

	var req commentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fieldErrors(err), RequestID: requestID(r.Context())})
		return
	}

	c := models.Comment{
		ID:           uuid.NewString(),
		PredictionID: p.ID,
		UserID:       user,
		Text:         req.Text,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if err := s.store.InsertComment(r.Context(), c); err != nil {
		s.internalError(w, r, "insert comment", err)
		return
	}
	if names, err := s.store.Usernames(r.Context(), []string{user}); err == nil {
		c.Username = names[user]
	}
	s.publish(changefeed.Change{Table: changefeed.Comments, Date: p.PredictionDate, StationID: p.StationID})
	writeJSON(w, http.StatusCreated, c)
}
