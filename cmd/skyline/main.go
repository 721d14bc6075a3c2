package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/skylineoracle/internal/config"
	"github.com/lox/skylineoracle/internal/logging"
	"github.com/lox/skylineoracle/internal/models"
	"github.com/lox/skylineoracle/internal/store"
)

var defaultStations = []models.Station{
	{StationID: "KATL", Name: "Hartsfield-Jackson Atlanta International", City: "Atlanta", Active: true},
	{StationID: "KORD", Name: "Chicago O'Hare International", City: "Chicago", Active: true},
	{StationID: "KDFW", Name: "Dallas/Fort Worth International", City: "Dallas", Active: true},
}

type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,help='Path to .env file.'"`

	config.Database `embed:""`
	config.METAR    `embed:""`
	config.Game     `embed:""`
	config.Logging  `embed:""`
}

type CLI struct {
	Globals

	Update     UpdateCmd     `cmd:"" help:"Fetch the latest METAR reports once and fold them into today's records."`
	Serve      ServeCmd      `cmd:"" help:"Run the HTTP API with the update and monthly reset schedules."`
	ResetMonth ResetMonthCmd `cmd:"" name:"reset-month" help:"Crown a month's champion and purge its data."`
	Migrate    MigrateCmd    `cmd:"" help:"Apply database migrations."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("skyline"),
		kong.Description("Skyline Oracle daily weather forecasting game."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func (g *Globals) logger() (*zap.Logger, error) {
	return logging.New(g.Level, g.Format)
}

// openStore opens and migrates the database and seeds the configured stations.
func (g *Globals) openStore(logger *zap.Logger) (*store.Store, func(), error) {
	if err := g.CheckDatabase(); err != nil {
		return nil, nil, err
	}
	db, err := store.Open(g.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	for _, station := range g.stations() {
		if err := st.UpsertStation(ctx, station); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("upsert station %s: %w", station.StationID, err)
		}
	}
	logger.Debug("stations seeded", zap.Strings("stations", g.Stations))
	return st, func() { db.Close() }, nil
}

// stations resolves the configured IDs against the known station list.
func (g *Globals) stations() []models.Station {
	known := make(map[string]models.Station, len(defaultStations))
	for _, s := range defaultStations {
		known[s.StationID] = s
	}
	out := make([]models.Station, 0, len(g.Stations))
	for _, id := range g.Stations {
		s, ok := known[id]
		if !ok {
			s = models.Station{StationID: id, Name: id, Active: true}
		}
		out = append(out, s)
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
