// Package config holds the settings shared by every skyline command. Each
// field is bound to a flag and an environment variable through kong tags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrMissingCredentials is returned when a required connection setting is unset.
var ErrMissingCredentials = errors.New("missing credentials")

type Database struct {
	Path string `name:"db" env:"SKYLINE_DB" help:"SQLite database path or :memory:."`
}

type METAR struct {
	URL       string `name:"metar-url" env:"METAR_URL" default:"https://aviationweather.gov" help:"aviationweather.gov base URL."`
	UserAgent string `name:"metar-user-agent" env:"METAR_USER_AGENT" default:"(SkylineOracle, ops@skylineoracle.app)" help:"User-Agent sent to the METAR API."`
}

type Game struct {
	Timezone string   `name:"tz" env:"SKYLINE_TZ" default:"America/New_York" help:"Timezone that defines the game day and submission cutoff."`
	Stations []string `name:"stations" env:"SKYLINE_STATIONS" default:"KATL,KORD,KDFW" help:"Stations in play."`
}

type Logging struct {
	Level  string `name:"log-level" env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level."`
	Format string `name:"log-format" env:"LOG_FORMAT" default:"json" enum:"json,console" help:"Log encoding."`
}

// CheckDatabase reports ErrMissingCredentials when no database is configured.
func (d Database) CheckDatabase() error {
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("%w: SKYLINE_DB is not set", ErrMissingCredentials)
	}
	return nil
}

// CheckCredentials reports ErrMissingCredentials for any unset connection
// setting the aggregator needs.
func CheckCredentials(db Database, m METAR) error {
	if err := db.CheckDatabase(); err != nil {
		return err
	}
	if strings.TrimSpace(m.URL) == "" {
		return fmt.Errorf("%w: METAR_URL is not set", ErrMissingCredentials)
	}
	return nil
}

// Location loads the game timezone, falling back to UTC.
func (g Game) Location(logger *zap.Logger) *time.Location {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		if logger != nil {
			logger.Warn("could not load timezone, using UTC", zap.String("tz", g.Timezone), zap.Error(err))
		}
		return time.UTC
	}
	return loc
}
