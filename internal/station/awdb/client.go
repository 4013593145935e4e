// Package awdb is a client for the NRCS Air-Water Database (AWDB) SOAP
// service that serves SNOTEL and other station data.
package awdb

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/pow-tracker/internal/station"
)

// DefaultURL is the public AWDB SOAP endpoint.
const DefaultURL = "https://wcc.sc.egov.usda.gov/awdbWebService/services"

// Config configures a Client session.
type Config struct {
	URL     string
	Timeout time.Duration

	// BreakerEnabled guards every round trip with a circuit breaker so a dead
	// endpoint fails fast for the rest of a run.
	BreakerEnabled bool

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client is an open session against the AWDB service. It implements
// station.DataClient. Close releases its idle connections.
type Client struct {
	url     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

var _ station.DataClient = (*Client)(nil)

// Open creates a session. No request is made until the first call.
func Open(cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid AWDB url %q", cfg.URL)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		url:    u.String(),
		http:   httpClient,
		logger: logger.Named("awdb"),
	}
	if cfg.BreakerEnabled {
		c.breaker = newBreaker()
	}
	c.logger.Infow("AWDB session opened", "url", c.url, "breaker", cfg.BreakerEnabled)
	return c, nil
}

// Close ends the session.
func (c *Client) Close() {
	if c.http != nil {
		c.http.CloseIdleConnections()
	}
	c.logger.Info("AWDB session closed")
}

// SearchStations finds stations matching filters and looks up metadata for
// each result, one call per station.
func (c *Client) SearchStations(ctx context.Context, filters station.SearchFilters) ([]station.Metadata, error) {
	c.logger.Infow("searching stations",
		"states", filters.StateCodes, "networks", filters.NetworkCodes,
		"counties", filters.CountyNames, "logicalAnd", filters.LogicalAnd)

	req := getStationsRequest{
		StateCds:    filters.StateCodes,
		NetworkCds:  filters.NetworkCodes,
		CountyNames: filters.CountyNames,
		LogicalAnd:  filters.LogicalAnd,
	}
	if filters.MinElevation != nil {
		req.MinElevation = strconv.FormatFloat(*filters.MinElevation, 'f', -1, 64)
	}

	var resp getStationsResponse
	if err := c.call(ctx, "getStations", req, &resp); err != nil {
		c.logger.Errorw("station search failed", "error", err)
		return nil, err
	}

	c.logger.Infow("getting station metadata", "stations", len(resp.Triplets))
	stations := make([]station.Metadata, 0, len(resp.Triplets))
	for _, triplet := range resp.Triplets {
		meta, err := c.GetMetadata(ctx, strings.TrimSpace(triplet))
		if err != nil {
			return nil, err
		}
		stations = append(stations, meta)
	}
	return stations, nil
}

// GetMetadata returns the metadata of one station.
func (c *Client) GetMetadata(ctx context.Context, triplet string) (station.Metadata, error) {
	c.logger.Infow("querying station metadata", "triplet", triplet)

	var resp getStationMetadataResponse
	err := c.call(ctx, "getStationMetadata", getStationMetadataRequest{StationTriplet: triplet}, &resp)
	if err == nil {
		var meta station.Metadata
		meta, err = toMetadata(triplet, resp.Return)
		if err == nil {
			return meta, nil
		}
	}
	c.logger.Errorw("station metadata query failed", "triplet", triplet, "error", err)
	return station.Metadata{}, err
}

// GetDailySeries runs a daily getData query and returns its first record.
func (c *Client) GetDailySeries(ctx context.Context, q station.StationQuery) (station.RawDailyResponse, error) {
	if err := q.Validate(); err != nil {
		return station.RawDailyResponse{}, err
	}
	c.logger.Infow("querying station data", "query", q.String())

	req := getDataRequest{
		StationTriplets:        []string{q.Triplet},
		ElementCd:              q.Element,
		Ordinal:                q.Ordinal,
		Duration:               string(station.DurationDaily),
		GetFlags:               false,
		BeginDate:              q.BeginDate.Format(station.DateLayout),
		EndDate:                q.EndDate.Format(station.DateLayout),
		AlwaysReturnDailyFeb29: q.AlwaysReturnFeb29,
	}

	var resp getDataResponse
	err := c.call(ctx, "getData", req, &resp)
	if err == nil {
		var raw station.RawDailyResponse
		raw, err = toDaily(resp)
		if err == nil {
			return raw, nil
		}
	}
	c.logger.Errorw("station data query failed", "query", q.String(), "error", err)
	return station.RawDailyResponse{}, err
}

// GetHourlySeries runs a getHourlyData query and returns its first record in
// service order.
func (c *Client) GetHourlySeries(ctx context.Context, q station.StationQuery) (station.RawHourlyResponse, error) {
	if err := q.Validate(); err != nil {
		return station.RawHourlyResponse{}, err
	}
	c.logger.Infow("querying hourly station data", "query", q.String())

	req := getHourlyDataRequest{
		StationTriplets: []string{q.Triplet},
		ElementCd:       q.Element,
		Ordinal:         q.Ordinal,
		BeginDate:       q.BeginDate.Format(station.DateLayout),
		EndDate:         q.EndDate.Format(station.DateLayout),
		BeginHour:       q.BeginHour,
		EndHour:         q.EndHour,
	}

	var resp getHourlyDataResponse
	err := c.call(ctx, "getHourlyData", req, &resp)
	if err == nil {
		var raw station.RawHourlyResponse
		raw, err = toHourly(resp)
		if err == nil {
			return raw, nil
		}
	}
	c.logger.Errorw("hourly station data query failed", "query", q.String(), "error", err)
	return station.RawHourlyResponse{}, err
}

func toMetadata(triplet string, m *stationMetadata) (station.Metadata, error) {
	if m == nil {
		return station.Metadata{}, fmt.Errorf("%w: no metadata returned for %s", station.ErrMalformedResponse, triplet)
	}
	elev, err := strconv.ParseFloat(strings.TrimSpace(m.Elevation), 64)
	if err != nil {
		return station.Metadata{}, fmt.Errorf("%w: elevation %q for %s", station.ErrMalformedResponse, m.Elevation, triplet)
	}

	meta := station.Metadata{
		Triplet:       strings.TrimSpace(m.StationTriplet),
		Name:          strings.TrimSpace(m.Name),
		ElevationFeet: int(math.Round(elev)),
		CountyName:    strings.TrimSpace(m.CountyName),
	}
	if meta.Triplet == "" {
		meta.Triplet = triplet
	}
	if parts := strings.Split(meta.Triplet, ":"); len(parts) == 3 {
		meta.StateCode = parts[1]
		meta.NetworkCode = parts[2]
	}
	meta.Latitude, _ = strconv.ParseFloat(strings.TrimSpace(m.Latitude), 64)
	meta.Longitude, _ = strconv.ParseFloat(strings.TrimSpace(m.Longitude), 64)
	return meta, nil
}

func toDaily(resp getDataResponse) (station.RawDailyResponse, error) {
	if len(resp.Records) == 0 {
		return station.RawDailyResponse{}, station.ErrEmptyResponse
	}
	rec := resp.Records[0]
	if strings.TrimSpace(rec.BeginDate) == "" || strings.TrimSpace(rec.EndDate) == "" {
		if len(rec.Values) == 0 {
			return station.RawDailyResponse{}, station.ErrEmptyResponse
		}
		return station.RawDailyResponse{}, fmt.Errorf("%w: record without beginDate/endDate", station.ErrMalformedResponse)
	}

	values := make([]station.Measurement, len(rec.Values))
	for i, v := range rec.Values {
		m, err := parseValue(v)
		if err != nil {
			return station.RawDailyResponse{}, err
		}
		values[i] = m
	}
	return station.RawDailyResponse{
		Triplet:   strings.TrimSpace(rec.StationTriplet),
		BeginDate: strings.TrimSpace(rec.BeginDate),
		EndDate:   strings.TrimSpace(rec.EndDate),
		Values:    values,
	}, nil
}

func toHourly(resp getHourlyDataResponse) (station.RawHourlyResponse, error) {
	if len(resp.Records) == 0 {
		return station.RawHourlyResponse{}, station.ErrEmptyResponse
	}
	rec := resp.Records[0]

	values := make([]station.RawHourlyValue, len(rec.Values))
	for i, v := range rec.Values {
		m, err := parseValue(v.Value)
		if err != nil {
			return station.RawHourlyResponse{}, err
		}
		values[i].Value = m
		if !v.DateTime.Absent() {
			values[i].Timestamp = strings.TrimSpace(v.DateTime.Text)
		}
	}
	return station.RawHourlyResponse{
		Triplet: strings.TrimSpace(rec.StationTriplet),
		Values:  values,
	}, nil
}

func parseValue(v nillableText) (station.Measurement, error) {
	if v.Absent() {
		return station.Missing(), nil
	}
	m, err := station.ParseMeasurement(v.Text)
	if err != nil {
		return station.Missing(), fmt.Errorf("%w: value %q", station.ErrMalformedResponse, v.Text)
	}
	return m, nil
}
