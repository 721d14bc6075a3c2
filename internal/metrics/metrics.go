package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	METARAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyline_metar_api_calls_total",
			Help: "Total aviationweather.gov METAR API calls",
		},
		[]string{"status"},
	)

	METARAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skyline_metar_api_latency_seconds",
			Help:    "METAR API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ObservationsUpdated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyline_observations_updated_total",
			Help: "Total daily observation rows written by the aggregator",
		},
		[]string{"station"},
	)

	StationUpdateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyline_station_update_failures_total",
			Help: "Total per-station aggregator failures",
		},
		[]string{"station", "reason"},
	)

	PredictionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyline_predictions_submitted_total",
			Help: "Total predictions accepted by the API",
		},
		[]string{"station"},
	)

	LeaderboardRecomputes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skyline_leaderboard_recomputes_total",
			Help: "Total leaderboard recomputations triggered by data changes",
		},
	)

	ChangesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyline_changefeed_dropped_total",
			Help: "Changes dropped because a subscriber buffer was full",
		},
		[]string{"table"},
	)

	MonthlyResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyline_monthly_resets_total",
			Help: "Monthly reset runs by outcome",
		},
		[]string{"outcome"},
	)
)
