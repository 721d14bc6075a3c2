package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/skylineoracle/internal/changefeed"
	"github.com/lox/skylineoracle/internal/imagegen"
	"github.com/lox/skylineoracle/internal/standings"
	"github.com/lox/skylineoracle/internal/store"
)

// CutoffHour is the local hour after which submissions for tomorrow close.
const CutoffHour = 20

// Publisher receives a change after every successful write.
type Publisher interface {
	Publish(changefeed.Change)
}

type Options struct {
	Addr     string
	Location *time.Location
	Clock    clockwork.Clock
	Stations []string
	Feed     Publisher
	Logger   *zap.Logger
}

type Server struct {
	store     *store.Store
	standings *standings.Service
	feed      Publisher
	addr      string
	loc       *time.Location
	clock     clockwork.Clock
	stations  map[string]bool
	validate  *validator.Validate
	cards     *imagegen.Cache
	logger    *zap.Logger
}

func NewServer(st *store.Store, sv *standings.Service, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	stations := make(map[string]bool, len(opts.Stations))
	for _, id := range opts.Stations {
		stations[id] = true
	}

	s := &Server{
		store:     st,
		standings: sv,
		feed:      opts.Feed,
		addr:      opts.Addr,
		loc:       opts.Location,
		clock:     opts.Clock,
		stations:  stations,
		cards:     imagegen.NewCache(time.Minute, opts.Clock),
		logger:    opts.Logger.Named("api"),
	}
	s.validate = newValidator(stations)
	return s
}

func (s *Server) publish(c changefeed.Change) {
	if s.feed != nil {
		s.feed.Publish(c)
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/stations", s.handleStations)
	mux.HandleFunc("GET /api/weather", s.handleWeather)
	mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/leaderboard/card.png", s.handleLeaderboardCard)
	mux.HandleFunc("POST /api/predictions", s.handleSubmitPrediction)
	mux.HandleFunc("GET /api/predictions/{id}/comments", s.handleListComments)
	mux.HandleFunc("POST /api/predictions/{id}/comments", s.handlePostComment)
	mux.HandleFunc("GET /api/profiles/{id}", s.handleProfile)
	mux.HandleFunc("PUT /api/profile", s.handleUpdateProfile)
	mux.HandleFunc("GET /api/users/search", s.handleSearchUsers)
	mux.HandleFunc("POST /api/users/{id}/follow", s.handleFollow)
	mux.HandleFunc("DELETE /api/users/{id}/follow", s.handleUnfollow)
	mux.HandleFunc("GET /api/users/{id}/following", s.handleFollowing)
	mux.HandleFunc("GET /api/hall-of-fame", s.handleHallOfFame)
	return s.withRequestID(s.withLogging(mux))
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting server", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// today is the current game date.
func (s *Server) today() time.Time {
	return s.clock.Now().In(s.loc)
}
