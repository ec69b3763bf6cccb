package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/i474232898/geodata-aggregation/internal/geo"
	"github.com/i474232898/geodata-aggregation/internal/provider"
	"github.com/i474232898/geodata-aggregation/internal/raster"
)

// Frequency labels the reporting cadence of an aggregation request. Samples
// are always taken at the dataset's native daily cadence; the frequency is
// validated and echoed back so downstream systems know which period shape
// the caller asked for.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// ParseFrequency accepts the plain names and their ISO 8601 duration spellings.
func ParseFrequency(value string) (Frequency, error) {
	switch value {
	case "", "daily", "P1D":
		return FreqDaily, nil
	case "weekly", "P1W":
		return FreqWeekly, nil
	case "monthly", "P1M":
		return FreqMonthly, nil
	}
	return "", fmt.Errorf("%w: unsupported frequency %q", ErrInvalidParameter, value)
}

// Aggregation is the reduction applied across the daily samples.
type Aggregation string

const (
	AggSum  Aggregation = "sum"
	AggMean Aggregation = "mean"
	AggMin  Aggregation = "min"
	AggMax  Aggregation = "max"
)

// ParseAggregation validates the reduction name; empty defaults to mean.
func ParseAggregation(value string) (Aggregation, error) {
	switch value {
	case "", "mean":
		return AggMean, nil
	case "sum":
		return AggSum, nil
	case "min":
		return AggMin, nil
	case "max":
		return AggMax, nil
	}
	return "", fmt.Errorf("%w: unsupported aggregation %q", ErrInvalidParameter, value)
}

// AggregateRequest reduces the daily zonal means of one parameter over an
// inclusive date range into a single value.
type AggregateRequest struct {
	DatasetID   string  `json:"datasetId"`
	Parameter   string  `json:"parameter"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	AOI         geo.AOI `json:"aoi"`
	Frequency   string  `json:"frequency,omitempty"`
	Aggregation string  `json:"aggregation,omitempty"`
	Band        int     `json:"band,omitempty"`
}

// Aggregate walks the range day by day, takes the zonal mean of each day and
// reduces the samples. Days with missing assets or no valid cells are counted
// in MissingPeriods and excluded from the reduction; a range with no usable
// day at all yields a no_data row, never a fabricated zero.
func (s *Service) Aggregate(ctx context.Context, req AggregateRequest) (ComputedRow, error) {
	if _, err := s.registry.ResolveParameter(req.DatasetID, req.Parameter); err != nil {
		return ComputedRow{}, err
	}
	if req.AOI.IsZero() {
		return ComputedRow{}, fmt.Errorf("%w: aoi is required", ErrInvalidAOI)
	}
	if _, err := ParseFrequency(req.Frequency); err != nil {
		return ComputedRow{}, err
	}
	agg, err := ParseAggregation(req.Aggregation)
	if err != nil {
		return ComputedRow{}, err
	}
	start, end, err := resolveRange(req.Start, req.End)
	if err != nil {
		return ComputedRow{}, err
	}
	fetcher, err := s.fetcherFor(req.DatasetID)
	if err != nil {
		return ComputedRow{}, err
	}

	row := ComputedRow{
		DatasetID: req.DatasetID,
		Parameter: req.Parameter,
		Operation: OpTemporalAggregate,
		Start:     start.Format("2006-01-02"),
		End:       end.Format("2006-01-02"),
		AOI:       req.AOI,
		Stat:      string(agg),
		Status:    StatusNoData,
	}

	var samples []float64
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return ComputedRow{}, err
		}
		v, ok := s.dailyMean(ctx, fetcher, req.DatasetID, req.Parameter, day, req.AOI, req.Band)
		if !ok {
			row.MissingPeriods++
			continue
		}
		samples = append(samples, v)
	}

	row.SampleCount = len(samples)
	if len(samples) > 0 {
		row.computed(reduceSamples(samples, agg))
	}
	return row, nil
}

// dailyMean computes one day's zonal mean, folding every per-day failure
// into a missing sample.
func (s *Service) dailyMean(ctx context.Context, fetcher AssetFetcher, datasetID, param string, day time.Time, aoi geo.AOI, band int) (float64, bool) {
	handle, err := fetcher.Fetch(ctx, provider.NewKey(datasetID, param, day, band))
	if err != nil {
		return 0, false
	}
	grid, err := handle.Open()
	if err != nil {
		return 0, false
	}
	values, err := raster.ZonalStats(grid, aoi, raster.ZonalOptions{Stats: []raster.StatName{raster.StatMean}, Band: band})
	if err != nil {
		return 0, false
	}
	return values[raster.StatMean], true
}

func reduceSamples(samples []float64, agg Aggregation) float64 {
	switch agg {
	case AggSum:
		var s float64
		for _, v := range samples {
			s += v
		}
		return s
	case AggMean:
		var s float64
		for _, v := range samples {
			s += v
		}
		return s / float64(len(samples))
	case AggMin:
		m := samples[0]
		for _, v := range samples[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case AggMax:
		m := samples[0]
		for _, v := range samples[1:] {
			if v > m {
				m = v
			}
		}
		return m
	}
	return 0
}
