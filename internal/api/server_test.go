package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/skylineoracle/internal/api"
	"github.com/lox/skylineoracle/internal/changefeed"
	"github.com/lox/skylineoracle/internal/models"
	"github.com/lox/skylineoracle/internal/standings"
	"github.com/lox/skylineoracle/internal/store"
)

var stations = []string{"KATL", "KORD", "KDFW"}

type testServer struct {
	handler http.Handler
	store   *store.Store
	clock   *clockwork.FakeClock
	feed    *changefeed.Feed
}

// setupServer starts the game clock at 15:00 New York time on 2026-03-14,
// so accepted submissions target 2026-03-15.
func setupServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, zap.NewNop())
	require.NoError(t, st.Migrate())
	ctx := context.Background()
	for _, id := range stations {
		require.NoError(t, st.UpsertStation(ctx, models.Station{StationID: id, Name: id, Active: true}))
	}

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 15, 0, 0, 0, loc))
	feed := changefeed.New(changefeed.DefaultBuffer, zap.NewNop())
	t.Cleanup(feed.Close)

	srv := api.NewServer(st, standings.New(st, zap.NewNop()), api.Options{
		Location: loc,
		Clock:    clock,
		Stations: stations,
		Feed:     feed,
		Logger:   zap.NewNop(),
	})
	return &testServer{handler: srv.Handler(), store: st, clock: clock, feed: feed}
}

func (ts *testServer) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

const validPrediction = `{"station_id":"KATL","high":70,"low":55,"wind_speed":0,"wind_dir":0,"precip":0}`

func TestHealthEndpoint(t *testing.T) {
	ts := setupServer(t)
	w := ts.do(t, "GET", "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.NotZero(t, body["schema_version"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDPropagated(t *testing.T) {
	ts := setupServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "0b7e3c2a-4a53-4a8c-9a3b-0c1d2e3f4a5b")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Equal(t, "0b7e3c2a-4a53-4a8c-9a3b-0c1d2e3f4a5b", w.Header().Get("X-Request-ID"))
}

func TestStations(t *testing.T) {
	ts := setupServer(t)
	w := ts.do(t, "GET", "/api/stations", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []models.Station
	decode(t, w, &got)
	assert.Len(t, got, 3)
}

func TestSubmitPrediction(t *testing.T) {
	ts := setupServer(t)
	sub := ts.feed.Subscribe(context.Background())

	w := ts.do(t, "POST", "/api/predictions", "u1", validPrediction)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var got map[string]any
	decode(t, w, &got)
	assert.Equal(t, "2026-03-15", got["date"])
	assert.Equal(t, "KATL", got["station_id"])
	assert.Nil(t, got["score"])
	assert.Equal(t, 55.0, got["low"])

	select {
	case c := <-sub:
		assert.Equal(t, changefeed.Predictions, c.Table)
		assert.Equal(t, "2026-03-15", c.Date)
	case <-time.After(time.Second):
		t.Fatal("expected change to be published")
	}

	// Resubmitting replaces the earlier forecast.
	w = ts.do(t, "POST", "/api/predictions", "u1", `{"station_id":"KATL","high":75,"wind_speed":5,"wind_dir":90,"precip":0.1}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var again map[string]any
	decode(t, w, &again)
	assert.Equal(t, got["id"], again["id"])
	assert.Nil(t, again["low"])

	preds, err := ts.store.GetPredictionsForDate(context.Background(), "2026-03-15", "")
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, 75.0, preds[0].HighF)
}

func TestSubmitPrediction_RoundsPrecipToHundredths(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, "POST", "/api/predictions", "u1", `{"station_id":"KORD","high":40,"wind_speed":12,"wind_dir":300,"precip":0.126}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"precip":0.13`)

	preds, err := ts.store.GetUserPredictions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, 0.13, preds[0].PrecipIn)
}

func TestSubmitPrediction_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		body   string
		status int
		field  string
	}{
		{"anonymous", "", validPrediction, http.StatusUnauthorized, ""},
		{"malformed", "u1", `{"station_id":`, http.StatusBadRequest, ""},
		{"unknown station", "u1", `{"station_id":"KJFK","high":70,"wind_speed":0,"wind_dir":0,"precip":0}`, http.StatusBadRequest, "station_id"},
		{"missing high", "u1", `{"station_id":"KATL","wind_speed":0,"wind_dir":0,"precip":0}`, http.StatusBadRequest, "high"},
		{"direction out of range", "u1", `{"station_id":"KATL","high":70,"wind_speed":0,"wind_dir":400,"precip":0}`, http.StatusBadRequest, "wind_dir"},
		{"negative precip", "u1", `{"station_id":"KATL","high":70,"wind_speed":0,"wind_dir":0,"precip":-1}`, http.StatusBadRequest, "precip"},
		{"low above high", "u1", `{"station_id":"KATL","high":50,"low":60,"wind_speed":0,"wind_dir":0,"precip":0}`, http.StatusBadRequest, "low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupServer(t)
			w := ts.do(t, "POST", "/api/predictions", tt.user, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.field != "" {
				var body struct {
					Fields map[string]string `json:"fields"`
				}
				decode(t, w, &body)
				assert.Contains(t, body.Fields, tt.field)
			}
		})
	}
}

func TestSubmitPrediction_AfterCutoff(t *testing.T) {
	ts := setupServer(t)
	ts.clock.Advance(5 * time.Hour) // 20:00 local

	w := ts.do(t, "POST", "/api/predictions", "u1", validPrediction)
	assert.Equal(t, http.StatusForbidden, w.Code)

	preds, err := ts.store.GetUserPredictions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestWeather(t *testing.T) {
	ts := setupServer(t)
	require.NoError(t, ts.store.UpsertObservation(context.Background(), models.Observation{
		StationID: "KATL",
		Date:      "2026-03-14",
		CurrentC:  sql.NullFloat64{Float64: 20, Valid: true},
		HighC:     sql.NullFloat64{Float64: 20, Valid: true},
		LowC:      sql.NullFloat64{Float64: 10, Valid: true},
		UpdatedAt: ts.clock.Now(),
	}))

	w := ts.do(t, "GET", "/api/weather", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got []map[string]any
	decode(t, w, &got)
	require.Len(t, got, 1)
	assert.Equal(t, 68.0, got[0]["high_f"])
	assert.Equal(t, 50.0, got[0]["low_f"])

	w = ts.do(t, "GET", "/api/weather?date=14-03-2026", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLeaderboard(t *testing.T) {
	ts := setupServer(t)
	ctx := context.Background()
	for _, p := range []models.Prediction{
		{UserID: "u1", StationID: "KATL", PredictionDate: "2026-03-14", HighF: 70},
		{UserID: "u2", StationID: "KATL", PredictionDate: "2026-03-14", HighF: 60},
		{UserID: "u3", StationID: "KORD", PredictionDate: "2026-03-14", HighF: 60},
	} {
		p.SubmittedAt = time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC)
		_, err := ts.store.UpsertPrediction(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, ts.store.UpsertObservation(ctx, models.Observation{
		StationID: "KATL",
		Date:      "2026-03-14",
		HighC:     sql.NullFloat64{Float64: 20, Valid: true},
		UpdatedAt: ts.clock.Now(),
	}))

	w := ts.do(t, "GET", "/api/leaderboard?date=2026-03-14", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Station string `json:"station"`
		Entries []struct {
			Rank   int    `json:"rank"`
			UserID string `json:"user_id"`
			Total  *int   `json:"total"`
		} `json:"entries"`
	}
	decode(t, w, &body)
	assert.Equal(t, "all", body.Station)
	require.Len(t, body.Entries, 3)
	assert.Equal(t, "u1", body.Entries[0].UserID)
	assert.Equal(t, 2, *body.Entries[0].Total)
	assert.Equal(t, "u2", body.Entries[1].UserID)
	assert.Equal(t, 8, *body.Entries[1].Total)
	assert.Equal(t, "u3", body.Entries[2].UserID)
	assert.Nil(t, body.Entries[2].Total)
	assert.Zero(t, body.Entries[2].Rank)

	w = ts.do(t, "GET", "/api/leaderboard?date=2026-03-14&station=KORD", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "u3", body.Entries[0].UserID)

	w = ts.do(t, "GET", "/api/leaderboard?station=KJFK", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLeaderboardCard(t *testing.T) {
	ts := setupServer(t)
	w := ts.do(t, "GET", "/api/leaderboard/card.png?date=2026-03-14", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))
}

func TestProfiles(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, "GET", "/api/profiles/u1", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, "PUT", "/api/profile", "u1", `{"username":"alice","avatar_url":"https://example.com/a.png"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, "PUT", "/api/profile", "u2", `{"username":"alice"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, "PUT", "/api/profile", "u2", `{"username":"no spaces"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "PUT", "/api/profile", "u2", `{"username":"bob","avatar_url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", "/api/predictions", "u1", validPrediction)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, "GET", "/api/profiles/u1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Profile struct {
			Username  string `json:"username"`
			AvatarURL string `json:"avatar_url"`
		} `json:"profile"`
		Stats struct {
			TotalForecasts int      `json:"total_forecasts"`
			Graded         int      `json:"graded"`
			AvgError       *float64 `json:"avg_error"`
		} `json:"stats"`
		History []map[string]any `json:"history"`
	}
	decode(t, w, &body)
	assert.Equal(t, "alice", body.Profile.Username)
	assert.Equal(t, "https://example.com/a.png", body.Profile.AvatarURL)
	assert.Equal(t, 1, body.Stats.TotalForecasts)
	assert.Zero(t, body.Stats.Graded)
	assert.Nil(t, body.Stats.AvgError)
	require.Len(t, body.History, 1)
	assert.Nil(t, body.History[0]["score"])
}

func TestSearchUsers(t *testing.T) {
	ts := setupServer(t)
	for user, name := range map[string]string{"u1": "alice", "u2": "alfred", "u3": "bob"} {
		w := ts.do(t, "PUT", "/api/profile", user, `{"username":"`+name+`"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	var got []map[string]any
	w := ts.do(t, "GET", "/api/users/search?q=a", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &got)
	assert.Empty(t, got)

	w = ts.do(t, "GET", "/api/users/search?q=al", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &got)
	assert.Len(t, got, 2)
}

func TestFollow(t *testing.T) {
	ts := setupServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, "PUT", "/api/profile", "u2", `{"username":"bob"}`).Code)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "POST", "/api/users/u2/follow", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/users/u1/follow", "u1", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "POST", "/api/users/nobody/follow", "u1", "").Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, "POST", "/api/users/u2/follow", "u1", "").Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, "POST", "/api/users/u2/follow", "u1", "").Code)

	var got []map[string]any
	w := ts.do(t, "GET", "/api/users/u1/following", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &got)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0]["username"])

	assert.Equal(t, http.StatusNoContent, ts.do(t, "DELETE", "/api/users/u2/follow", "u1", "").Code)
	w = ts.do(t, "GET", "/api/users/u1/following", "", "")
	decode(t, w, &got)
	assert.Empty(t, got)
}

func TestComments(t *testing.T) {
	ts := setupServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, "PUT", "/api/profile", "u2", `{"username":"bob"}`).Code)

	w := ts.do(t, "POST", "/api/predictions", "u1", validPrediction)
	require.Equal(t, http.StatusCreated, w.Code)
	var pred struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &pred)
	path := "/api/predictions/" + jsonNumber(pred.ID) + "/comments"

	w = ts.do(t, "GET", path, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "POST", path, "", `{"text":"hi"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", path, "u2", `{"text":"   "}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", path, "u2", `{"text":"`+strings.Repeat("x", 501)+`"}`).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "POST", "/api/predictions/9999/comments", "u2", `{"text":"hi"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", "/api/predictions/abc/comments", "", "").Code)

	w = ts.do(t, "POST", path, "u2", `{"text":"bold call"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var c models.Comment
	decode(t, w, &c)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "bob", c.Username)

	var list []models.Comment
	w = ts.do(t, "GET", path, "", "")
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "bold call", list[0].Text)
}

func TestHallOfFame(t *testing.T) {
	ts := setupServer(t)
	w := ts.do(t, "GET", "/api/hall-of-fame", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	_, err := ts.store.InsertMonthlyWinner(context.Background(), models.MonthlyWinner{
		UserID: "u1", Username: "alice", Score: 4.5, MonthYear: "Feb-2026", CreatedAt: ts.clock.Now(),
	})
	require.NoError(t, err)

	var got []models.MonthlyWinner
	decode(t, ts.do(t, "GET", "/api/hall-of-fame", "", ""), &got)
	require.Len(t, got, 1)
	assert.Equal(t, "Feb-2026", got[0].MonthYear)
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
