// Package pipeline orchestrates compute requests: it resolves datasets
// against the registry, pulls raster assets through the cache-first
// providers and reduces them into computed rows. Request-level validation
// fails the whole call; per-row failures are recorded in the row status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/i474232898/geodata-aggregation/internal/geo"
	"github.com/i474232898/geodata-aggregation/internal/provider"
	"github.com/i474232898/geodata-aggregation/internal/raster"
	"github.com/i474232898/geodata-aggregation/internal/registry"
)

// Error aliases so callers depend on one package for the request taxonomy.
var (
	ErrNotFound         = registry.ErrNotFound
	ErrInvalidParameter = registry.ErrInvalidParameter
	ErrInvalidAOI       = geo.ErrInvalidAOI
	ErrMissingAssets    = provider.ErrMissingAssets
	ErrNoData           = raster.ErrNoData
)

// AssetFetcher pulls one raster asset by key. Satisfied by the cached
// provider; tests substitute their own.
type AssetFetcher interface {
	Fetch(ctx context.Context, key provider.Key) (provider.AssetHandle, error)
}

// Service wires the registry to one asset fetcher per dataset.
type Service struct {
	registry  *registry.Registry
	providers map[string]AssetFetcher
}

// NewService builds the compute service. The providers map is keyed by
// dataset id and must cover every dataset the registry can resolve.
func NewService(reg *registry.Registry, providers map[string]AssetFetcher) *Service {
	return &Service{registry: reg, providers: providers}
}

// ZonalStatsRequest asks for statistics of one dataset over one AOI at one
// date. An empty Date defaults to the dataset's temporal start; empty Stats
// default to mean.
type ZonalStatsRequest struct {
	DatasetID  string   `json:"datasetId"`
	Parameters []string `json:"parameters"`
	Date       string   `json:"date,omitempty"`
	Stats      []string `json:"stats,omitempty"`
	AOI        geo.AOI  `json:"aoi"`
	Band       int      `json:"band,omitempty"`
	AllTouched bool     `json:"allTouched,omitempty"`
}

// ZonalStats computes one row per requested parameter and statistic, in
// request order. Invalid datasets, parameters, statistics, AOIs and dates
// fail the request; asset and data problems degrade individual rows.
func (s *Service) ZonalStats(ctx context.Context, req ZonalStatsRequest) ([]ComputedRow, error) {
	def, err := s.registry.Resolve(req.DatasetID)
	if err != nil {
		return nil, err
	}
	if len(req.Parameters) == 0 {
		return nil, fmt.Errorf("%w: at least one parameter is required", ErrInvalidParameter)
	}
	for _, p := range req.Parameters {
		if _, err := s.registry.ResolveParameter(req.DatasetID, p); err != nil {
			return nil, err
		}
	}
	stats, err := raster.ParseStats(req.Stats)
	if err != nil {
		return nil, err
	}
	if req.AOI.IsZero() {
		return nil, fmt.Errorf("%w: aoi is required", ErrInvalidAOI)
	}
	date, err := resolveDate(req.Date, def)
	if err != nil {
		return nil, err
	}
	fetcher, err := s.fetcherFor(req.DatasetID)
	if err != nil {
		return nil, err
	}

	day := date.Format("2006-01-02")
	rows := make([]ComputedRow, 0, len(req.Parameters)*len(stats))
	for _, param := range req.Parameters {
		values, status := s.zonalValues(ctx, fetcher, req.DatasetID, param, date, req.AOI, stats, req.Band, req.AllTouched)
		for _, stat := range stats {
			row := ComputedRow{
				DatasetID: req.DatasetID,
				Parameter: param,
				Operation: OpZonalStats,
				Time:      day,
				AOI:       req.AOI,
				Stat:      string(stat),
				Status:    status,
			}
			if status == StatusComputed {
				row.computed(values[stat])
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// zonalValues fetches and reduces one parameter. All statistics of one
// parameter share a single fetch and a single status.
func (s *Service) zonalValues(ctx context.Context, fetcher AssetFetcher, datasetID, param string, date time.Time, aoi geo.AOI, stats []raster.StatName, band int, allTouched bool) (map[raster.StatName]float64, Status) {
	handle, err := fetcher.Fetch(ctx, provider.NewKey(datasetID, param, date, band))
	if err != nil {
		if errors.Is(err, ErrMissingAssets) {
			return nil, StatusMissingAssets
		}
		return nil, StatusReadError
	}
	grid, err := handle.Open()
	if err != nil {
		return nil, StatusReadError
	}
	values, err := raster.ZonalStats(grid, aoi, raster.ZonalOptions{
		Stats:      stats,
		Band:       band,
		AllTouched: allTouched,
	})
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, StatusNoData
		}
		return nil, StatusReadError
	}
	return values, StatusComputed
}

// PointTimeseriesRequest asks for daily values of one parameter at one point
// over an inclusive date range.
type PointTimeseriesRequest struct {
	DatasetID string  `json:"datasetId"`
	Parameter string  `json:"parameter"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	AOI       geo.AOI `json:"aoi"`
	Band      int     `json:"band,omitempty"`
}

// PointTimeseries returns a lazy sequence of daily points in ascending date
// order. Each iteration of the sequence re-runs the fetches, so a warmed
// cache makes the second pass cheap. Validation errors surface before any
// point is produced.
func (s *Service) PointTimeseries(ctx context.Context, req PointTimeseriesRequest) (iter.Seq[TimeSeriesPoint], error) {
	if _, err := s.registry.ResolveParameter(req.DatasetID, req.Parameter); err != nil {
		return nil, err
	}
	if req.AOI.Kind() != geo.KindPoint {
		return nil, fmt.Errorf("%w: point timeseries requires a point aoi", ErrInvalidAOI)
	}
	start, end, err := resolveRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	fetcher, err := s.fetcherFor(req.DatasetID)
	if err != nil {
		return nil, err
	}

	lon, lat := req.AOI.Point()
	return func(yield func(TimeSeriesPoint) bool) {
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			point := TimeSeriesPoint{Date: day.Format("2006-01-02")}
			v, status := s.pointValue(ctx, fetcher, req.DatasetID, req.Parameter, day, lon, lat, req.Band)
			point.Status = status
			if status == StatusComputed {
				val := v
				point.Value = &val
			}
			if !yield(point) {
				return
			}
		}
	}, nil
}

// PointTimeseriesRows collects the sequence into computed rows for the job
// output, one row per day.
func (s *Service) PointTimeseriesRows(ctx context.Context, req PointTimeseriesRequest) ([]ComputedRow, error) {
	seq, err := s.PointTimeseries(ctx, req)
	if err != nil {
		return nil, err
	}
	var rows []ComputedRow
	for point := range seq {
		rows = append(rows, ComputedRow{
			DatasetID: req.DatasetID,
			Parameter: req.Parameter,
			Operation: OpPointTimeseries,
			Time:      point.Date,
			AOI:       req.AOI,
			Value:     point.Value,
			Status:    point.Status,
		})
	}
	return rows, nil
}

func (s *Service) pointValue(ctx context.Context, fetcher AssetFetcher, datasetID, param string, day time.Time, lon, lat float64, band int) (float64, Status) {
	handle, err := fetcher.Fetch(ctx, provider.NewKey(datasetID, param, day, band))
	if err != nil {
		if errors.Is(err, ErrMissingAssets) {
			return 0, StatusMissingAssets
		}
		return 0, StatusReadError
	}
	grid, err := handle.Open()
	if err != nil {
		return 0, StatusReadError
	}
	v, err := raster.PointValue(grid, lon, lat, band)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return 0, StatusNoData
		}
		return 0, StatusReadError
	}
	return v, StatusComputed
}

func (s *Service) fetcherFor(datasetID string) (AssetFetcher, error) {
	fetcher, ok := s.providers[datasetID]
	if !ok {
		return nil, fmt.Errorf("no provider wired for dataset %q", datasetID)
	}
	return fetcher, nil
}

// resolveDate parses a request date, defaulting to the dataset's temporal
// start when empty. Timestamps are accepted and truncated to the day.
func resolveDate(value string, def *registry.DatasetDefinition) (time.Time, error) {
	if value == "" {
		value = def.TemporalInterval.Start
	}
	return parseDay(value)
}

func resolveRange(start, end string) (time.Time, time.Time, error) {
	from, err := parseDay(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDay(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %q precedes start %q", ErrInvalidParameter, end, start)
	}
	return from, to, nil
}

func parseDay(value string) (time.Time, error) {
	if len(value) > 10 {
		value = value[:10]
	}
	day, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidParameter, value)
	}
	return day, nil
}
