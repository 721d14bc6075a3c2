package main

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/lox/skylineoracle/internal/api"
	"github.com/lox/skylineoracle/internal/changefeed"
	"github.com/lox/skylineoracle/internal/config"
	"github.com/lox/skylineoracle/internal/ingest"
	"github.com/lox/skylineoracle/internal/metar"
	"github.com/lox/skylineoracle/internal/standings"
)

type UpdateCmd struct {
	Pushgateway      string        `name:"pushgateway" env:"PUSHGATEWAY_URL" help:"Push run metrics to this Prometheus Pushgateway."`
	PayloadRetention time.Duration `name:"payload-retention" env:"PAYLOAD_RETENTION" default:"720h" help:"Delete raw METAR responses older than this."`
	StandingsTTL     time.Duration `name:"standings-ttl" env:"STANDINGS_TTL" default:"5m" help:"Maximum age of a cached leaderboard."`
}

// Run performs a single aggregation pass. Only missing configuration fails
// the process; fetch and per-station failures are logged.
func (c *UpdateCmd) Run(g *Globals) error {
	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := config.CheckCredentials(g.Database, g.METAR); err != nil {
		logger.Error("cannot start update", zap.Error(err))
		return err
	}

	st, closeDB, err := g.openStore(logger)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := signalContext()
	defer cancel()

	client := metar.NewClient(g.URL, g.UserAgent)
	updater := ingest.NewUpdater(st, client, logger, ingest.UpdaterConfig{
		Stations:         g.Stations,
		Location:         g.Location(logger),
		PayloadRetention: c.PayloadRetention,
	})

	report := updater.Run(ctx)
	logger.Info("update finished",
		zap.String("date", report.Date),
		zap.Int("fetched", report.Fetched),
		zap.Strings("updated", report.Updated),
		zap.Int("failed", len(report.Failed())))

	if c.Pushgateway != "" {
		if err := push.New(c.Pushgateway, "skyline_update").Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
			logger.Warn("push metrics", zap.Error(err))
		}
	}
	return nil
}

type ServeCmd struct {
	Addr             string        `name:"addr" env:"HTTP_ADDR" default:":8080" help:"HTTP listen address."`
	Interval         time.Duration `name:"interval" env:"UPDATE_INTERVAL" default:"10m" help:"How often to fetch METAR reports."`
	NoPoll           bool          `name:"no-poll" help:"Serve the API without polling METAR."`
	PayloadRetention time.Duration `name:"payload-retention" env:"PAYLOAD_RETENTION" default:"720h" help:"Delete raw METAR responses older than this."`
	StandingsTTL     time.Duration `name:"standings-ttl" env:"STANDINGS_TTL" default:"5m" help:"Maximum age of a cached leaderboard."`
}

func (c *ServeCmd) Run(g *Globals) error {
	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := config.CheckCredentials(g.Database, g.METAR); err != nil {
		logger.Error("cannot start server", zap.Error(err))
		return err
	}

	st, closeDB, err := g.openStore(logger)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := signalContext()
	defer cancel()

	loc := g.Location(logger)
	clock := clockwork.NewRealClock()

	feed := changefeed.New(changefeed.DefaultBuffer, logger)
	defer feed.Close()

	board := standings.New(st, logger, standings.WithClock(clock), standings.WithTTL(c.StandingsTTL))
	go board.Watch(ctx, feed.Subscribe(ctx))

	if !c.NoPoll {
		client := metar.NewClient(g.URL, g.UserAgent)
		updater := ingest.NewUpdater(st, client, logger, ingest.UpdaterConfig{
			Stations:         g.Stations,
			Location:         loc,
			Clock:            clock,
			Feed:             feed,
			PayloadRetention: c.PayloadRetention,
		})
		reset := ingest.NewMonthlyReset(st, feed, clock, loc, logger)
		scheduler := ingest.NewScheduler(updater, reset, c.Interval, loc, logger)
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer scheduler.Stop()
	} else {
		logger.Info("polling disabled (--no-poll)")
	}

	server := api.NewServer(st, board, api.Options{
		Addr:     c.Addr,
		Location: loc,
		Clock:    clock,
		Stations: g.Stations,
		Feed:     feed,
		Logger:   logger,
	})
	return server.Run(ctx)
}

type ResetMonthCmd struct {
	Month string `name:"month" placeholder:"YYYY-MM" help:"Month to reset. Defaults to the previous month."`
}

func (c *ResetMonthCmd) Run(g *Globals) error {
	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, closeDB, err := g.openStore(logger)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := signalContext()
	defer cancel()

	loc := g.Location(logger)
	reset := ingest.NewMonthlyReset(st, nil, clockwork.NewRealClock(), loc, logger)

	month := reset.PreviousMonth()
	if c.Month != "" {
		month, err = time.ParseInLocation("2006-01", c.Month, loc)
		if err != nil {
			return fmt.Errorf("--month must be YYYY-MM: %w", err)
		}
	}

	result, err := reset.Run(ctx, month)
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("month", result.Month),
		zap.Bool("winner_recorded", result.WinnerRecorded),
		zap.Int64("predictions_purged", result.PredictionsPurged),
		zap.Int64("observations_purged", result.ObservationsPurged),
	}
	if result.Winner != nil {
		fields = append(fields, zap.String("winner", result.Winner.UserID), zap.Float64("score", result.Winner.Score))
	}
	logger.Info("monthly reset finished", fields...)
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, closeDB, err := g.openStore(logger)
	if err != nil {
		return err
	}
	defer closeDB()

	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	logger.Info("database migrated", zap.Int("version", version))
	return nil
}
