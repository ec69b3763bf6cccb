package pipeline

import (
	"github.com/i474232898/geodata-aggregation/internal/geo"
)

// Operation identifies the compute operation that produced a row.
type Operation string

const (
	OpZonalStats        Operation = "zonal_stats"
	OpPointTimeseries   Operation = "point_timeseries"
	OpTemporalAggregate Operation = "temporal_aggregate"
)

// Status is the per-row outcome. Row-level failures are isolated here rather
// than failing the batch: one bad district never sinks the others.
type Status string

const (
	StatusComputed      Status = "computed"
	StatusNoData        Status = "no_data"
	StatusMissingAssets Status = "missing_assets"
	StatusReadError     Status = "read_error"
)

// ComputedRow is one immutable result per AOI, parameter and time unit.
// Value is non-nil if and only if Status is computed.
type ComputedRow struct {
	DatasetID string    `json:"datasetId"`
	Parameter string    `json:"parameter"`
	Operation Operation `json:"operation"`

	Time  string `json:"time,omitempty"`  // single-date operations
	Start string `json:"start,omitempty"` // range operations
	End   string `json:"end,omitempty"`

	AOI  geo.AOI `json:"aoi"`
	Stat string  `json:"stat,omitempty"`

	Value  *float64 `json:"value"`
	Status Status   `json:"status"`

	// Temporal aggregation bookkeeping.
	SampleCount    int `json:"sampleCount,omitempty"`
	MissingPeriods int `json:"missingPeriods,omitempty"`
}

// computed marks the row computed with the given value, preserving the
// value/status invariant in one place.
func (r *ComputedRow) computed(v float64) {
	r.Value = &v
	r.Status = StatusComputed
}

// TimeSeriesPoint is one entry of a point time series, emitted in ascending
// date order.
type TimeSeriesPoint struct {
	Date   string   `json:"date"`
	Value  *float64 `json:"value"`
	Status Status   `json:"status"`
}
