package metar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/lox/skylineoracle/internal/httputil"
	"github.com/lox/skylineoracle/internal/metrics"
)

const (
	DefaultBaseURL = "https://aviationweather.gov"
	Endpoint       = "api/data/metar"
)

// Report is one decoded METAR record. Only the fields the aggregator uses
// are mapped; absent fields stay nil.
type Report struct {
	ICAOID     string    `json:"icaoId"`
	ReportTime string    `json:"reportTime"`
	Temp       *float64  `json:"temp"`
	WindSpeed  *float64  `json:"wspd"`
	WindDir    Direction `json:"wdir"`
	Precip24Hr *float64  `json:"precip24Hr"`
	Pcp24Hr    *float64  `json:"pcp24hr"`
	Pcp1Hr     *float64  `json:"pcp1hr"`
}

// WindSpeedKt returns the reported wind speed, 0 when absent.
func (r Report) WindSpeedKt() float64 {
	if r.WindSpeed == nil {
		return 0
	}
	return *r.WindSpeed
}

// PrecipIn prefers the 24-hour total and falls back to the last hour.
func (r Report) PrecipIn() float64 {
	for _, v := range []*float64{r.Precip24Hr, r.Pcp24Hr, r.Pcp1Hr} {
		if v != nil {
			return *v
		}
	}
	return 0
}

// Direction is a wind direction that may be reported as "VRB".
type Direction struct {
	Degrees  int
	Variable bool
	Valid    bool
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	*d = Direction{}
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if strings.EqualFold(str, "VRB") {
			d.Variable = true
			return nil
		}
		s = str
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("wind direction %q: %w", s, err)
	}
	d.Degrees = int(f + 0.5)
	d.Valid = true
	return nil
}

// DirDeg returns the direction in degrees, 0 for variable or absent.
func (d Direction) DirDeg() int {
	if !d.Valid {
		return 0
	}
	return d.Degrees
}

// FetchResult describes the HTTP exchange for ingest auditing.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
}

type Client struct {
	baseURL    string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxElapsed time.Duration
	initial    time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default 30s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithRetryBudget bounds the total time spent retrying a fetch.
func WithRetryBudget(initial, maxElapsed time.Duration) Option {
	return func(cl *Client) {
		cl.initial = initial
		cl.maxElapsed = maxElapsed
	}
}

func NewClient(baseURL, userAgent string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     httputil.NewClient(userAgent),
		maxElapsed: 2 * time.Minute,
		initial:    backoff.DefaultInitialInterval,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "metar",
			MaxRequests: 1,
			Interval:    5 * time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch requests the latest METAR for the given stations in one call.
// It returns the decoded reports and the raw body.
func (c *Client) Fetch(ctx context.Context, stations []string) ([]Report, []byte, *FetchResult, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(stations, ","))
	q.Set("format", "json")
	u := c.baseURL + "/" + Endpoint + "?" + q.Encode()

	result := &FetchResult{}
	var body []byte

	operation := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			b, status, err := c.get(ctx, u)
			result.HTTPStatus = status
			if err != nil {
				return nil, err
			}
			body = b
			return nil, nil
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(err)
		case result.HTTPStatus == http.StatusTooManyRequests, result.HTTPStatus >= 500:
			return err
		case result.HTTPStatus != 0:
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initial
	bo.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, nil, result, errors.Wrap(err, "fetch metar")
	}

	result.ResponseSize = len(body)
	if len(body) == 0 {
		return nil, body, result, nil
	}

	var reports []Report
	if err := json.Unmarshal(body, &reports); err != nil {
		return nil, body, result, errors.Wrap(err, "decode metar")
	}
	result.RecordCount = len(reports)
	return reports, body, result, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.METARAPILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.METARAPICallsTotal.WithLabelValues("error").Inc()
		return nil, 0, errors.Wrap(err, "request")
	}
	defer resp.Body.Close()

	metrics.METARAPICallsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNoContent {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resp.StatusCode, errors.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "read body")
	}
	return b, resp.StatusCode, nil
}
