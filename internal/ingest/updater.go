package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lox/skylineoracle/internal/changefeed"
	"github.com/lox/skylineoracle/internal/metar"
	"github.com/lox/skylineoracle/internal/metrics"
	"github.com/lox/skylineoracle/internal/models"
	"github.com/lox/skylineoracle/internal/store"
)

// ErrInvalidReading is returned for a report that fails quality checks.
var ErrInvalidReading = errors.New("reading failed quality checks")

// errStaleReport marks a report taken before the current game day. It is
// skipped rather than counted as a failure.
var errStaleReport = errors.New("report predates current day")

// Fetcher fetches the latest METAR reports for a set of stations.
type Fetcher interface {
	Fetch(ctx context.Context, stations []string) ([]metar.Report, []byte, *metar.FetchResult, error)
}

// Publisher receives a change after every successful write.
type Publisher interface {
	Publish(changefeed.Change)
}

type UpdaterConfig struct {
	Stations []string
	Location *time.Location
	Clock    clockwork.Clock
	Feed     Publisher

	// PayloadRetention removes stored raw responses older than this after
	// each run. Zero keeps them forever.
	PayloadRetention time.Duration
}

type Updater struct {
	store     *store.Store
	fetcher   Fetcher
	feed      Publisher
	clock     clockwork.Clock
	loc       *time.Location
	stations  map[string]bool
	order     []string
	retention time.Duration
	logger    *zap.Logger
}

func NewUpdater(st *store.Store, fetcher Fetcher, logger *zap.Logger, cfg UpdaterConfig) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	stations := make(map[string]bool, len(cfg.Stations))
	for _, id := range cfg.Stations {
		stations[id] = true
	}
	return &Updater{
		store:     st,
		fetcher:   fetcher,
		feed:      cfg.Feed,
		clock:     cfg.Clock,
		loc:       cfg.Location,
		stations:  stations,
		order:     cfg.Stations,
		retention: cfg.PayloadRetention,
		logger:    logger.Named("ingest"),
	}
}

// RunReport summarises one aggregator run.
type RunReport struct {
	Date     string
	Fetched  int
	Updated  []string
	Ignored  []string
	// Stale lists stations whose latest report belongs to an earlier day.
	Stale    []string
	FetchErr error
	// Err combines the per-station failures.
	Err error
}

// Failed lists the per-station errors of the run.
func (r RunReport) Failed() []error {
	return multierr.Errors(r.Err)
}

// Run fetches the latest reports once and folds each configured station's
// reading into today's record. A failed fetch yields an empty run; a
// failing station is logged and skipped while the others proceed.
func (u *Updater) Run(ctx context.Context) RunReport {
	now := u.clock.Now()
	date := now.In(u.loc).Format(models.DateLayout)
	report := RunReport{Date: date}

	u.logger.Info("starting weather update", zap.String("date", date), zap.Strings("stations", u.order))

	run, err := u.store.StartIngestRun(ctx, "metar", metar.Endpoint)
	if err != nil {
		u.logger.Warn("start ingest run", zap.Error(err))
	}

	reports, raw, result, err := u.fetcher.Fetch(ctx, u.order)
	if run != nil {
		if result != nil {
			run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
			run.ResponseSizeBytes = sql.NullInt64{Int64: int64(result.ResponseSize), Valid: result.ResponseSize > 0}
			run.RecordsParsed = sql.NullInt64{Int64: int64(result.RecordCount), Valid: true}
		}
		if len(raw) > 0 {
			if _, perr := u.store.StoreRawPayload(ctx, run.ID, "metar", metar.Endpoint, raw); perr != nil {
				u.logger.Warn("store raw payload", zap.Error(perr))
			}
		}
	}

	if err != nil {
		u.logger.Error("fetch metar", zap.Error(err))
		report.FetchErr = err
		u.completeRun(ctx, run, report)
		return report
	}
	report.Fetched = len(reports)

	for _, r := range reports {
		if !u.stations[r.ICAOID] {
			report.Ignored = append(report.Ignored, r.ICAOID)
			continue
		}
		err := u.updateStation(ctx, r, date, now)
		if errors.Is(err, errStaleReport) {
			report.Stale = append(report.Stale, r.ICAOID)
			continue
		}
		if err != nil {
			reason := "store"
			switch {
			case errors.Is(err, ErrNoTemperature):
				reason = "no_temperature"
			case errors.Is(err, ErrInvalidReading):
				reason = "invalid"
			}
			metrics.StationUpdateFailures.WithLabelValues(r.ICAOID, reason).Inc()
			u.logger.Error("update station", zap.String("station", r.ICAOID), zap.Error(err))
			report.Err = multierr.Append(report.Err, fmt.Errorf("%s: %w", r.ICAOID, err))
			continue
		}
		report.Updated = append(report.Updated, r.ICAOID)
	}

	u.completeRun(ctx, run, report)
	u.cleanupPayloads(ctx, now)

	u.logger.Info("weather update complete",
		zap.String("date", date),
		zap.Int("fetched", report.Fetched),
		zap.Int("updated", len(report.Updated)),
		zap.Int("stale", len(report.Stale)),
		zap.Int("failed", len(report.Failed())))
	return report
}

func (u *Updater) updateStation(ctx context.Context, r metar.Report, date string, now time.Time) error {
	reading, err := ReadingFromReport(r)
	if err != nil {
		return err
	}
	if flags := ValidateReading(reading); len(flags) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidReading, QualityFlagsToJSON(flags))
	}
	if !reading.ReportedAt.IsZero() && reading.ReportedAt.In(u.loc).Format(models.DateLayout) < date {
		u.logger.Warn("skipping report from an earlier day",
			zap.String("station", reading.StationID),
			zap.Time("reported_at", reading.ReportedAt),
			zap.String("date", date))
		return errStaleReport
	}

	existing, err := u.store.GetObservation(ctx, reading.StationID, date)
	if err != nil {
		return fmt.Errorf("get observation: %w", err)
	}

	obs := Fold(existing, reading, date, now)
	if err := u.store.UpsertObservation(ctx, obs); err != nil {
		return fmt.Errorf("upsert observation: %w", err)
	}

	metrics.ObservationsUpdated.WithLabelValues(reading.StationID).Inc()
	u.logger.Info("station updated",
		zap.String("station", reading.StationID),
		zap.Time("reported_at", reading.ReportedAt),
		zap.Float64("current_c", reading.TempC),
		zap.Float64("high_c", obs.HighC.Float64),
		zap.Float64("low_c", obs.LowC.Float64))

	if u.feed != nil {
		u.feed.Publish(changefeed.Change{Table: changefeed.Observations, Date: date, StationID: reading.StationID})
	}
	return nil
}

func (u *Updater) completeRun(ctx context.Context, run *store.IngestRun, report RunReport) {
	if run == nil {
		return
	}
	run.Success = report.FetchErr == nil && report.Err == nil
	run.RecordsStored = sql.NullInt64{Int64: int64(len(report.Updated)), Valid: true}
	switch {
	case report.FetchErr != nil:
		run.ErrorMessage = sql.NullString{String: report.FetchErr.Error(), Valid: true}
	case report.Err != nil:
		run.ErrorMessage = sql.NullString{String: report.Err.Error(), Valid: true}
	}
	if err := u.store.CompleteIngestRun(ctx, run); err != nil {
		u.logger.Warn("complete ingest run", zap.Error(err))
	}
}

func (u *Updater) cleanupPayloads(ctx context.Context, now time.Time) {
	if u.retention <= 0 {
		return
	}
	n, err := u.store.CleanupOldRawPayloads(ctx, now.Add(-u.retention))
	if err != nil {
		u.logger.Warn("cleanup raw payloads", zap.Error(err))
		return
	}
	if n > 0 {
		u.logger.Info("removed old raw payloads", zap.Int64("count", n))
	}
}
