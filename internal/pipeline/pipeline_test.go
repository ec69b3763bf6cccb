package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/i474232898/geodata-aggregation/internal/geo"
	"github.com/i474232898/geodata-aggregation/internal/provider"
	"github.com/i474232898/geodata-aggregation/internal/raster"
	"github.com/i474232898/geodata-aggregation/internal/registry"
)

const datasetYAML = `id: chirps-daily
title: CHIRPS Daily Precipitation
spatial_bbox: [30.0, -10.0, 34.0, -6.0]
temporal_interval:
  start: "1981-01-01"
parameters:
  precip:
    units: mm/day
  tmax:
    units: degC
provider:
  name: http
  options:
    url_template: https://data.example.org/{parameter}/{date}.grid
`

// fakeFetcher hands out grids by date. Absent dates behave like a source
// that could not find the asset; broken dates fail with an unrelated error.
type fakeFetcher struct {
	dir    string
	grids  map[string][]byte
	broken map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, key provider.Key) (provider.AssetHandle, error) {
	date := key.Date.Format("2006-01-02")
	if f.broken[date] {
		return provider.AssetHandle{}, errors.New("backing store unavailable")
	}
	data, ok := f.grids[date]
	if !ok {
		return provider.AssetHandle{}, provider.ErrMissingAssets
	}
	path := filepath.Join(f.dir, date+".grid")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return provider.AssetHandle{}, err
	}
	return provider.AssetHandle{Key: key, Path: path, FromCache: true}, nil
}

func testService(t *testing.T, fetcher *fakeFetcher) *Service {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chirps-daily.yaml"), []byte(datasetYAML), 0o644); err != nil {
		t.Fatalf("write dataset definition: %v", err)
	}
	reg, err := registry.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fetcher.dir == "" {
		fetcher.dir = t.TempDir()
	}
	return NewService(reg, map[string]AssetFetcher{"chirps-daily": fetcher})
}

// rampGrid holds values 1..16 over the dataset extent.
func rampGrid(t *testing.T) []byte {
	t.Helper()
	g, err := raster.NewGrid([4]float64{30, -10, 34, -6}, 4, 4, 1, -9999)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	v := 1.0
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			g.SetValue(1, row, col, v)
			v++
		}
	}
	return g.Encode()
}

func constantGrid(t *testing.T, value float64) []byte {
	t.Helper()
	g, err := raster.NewGrid([4]float64{30, -10, 34, -6}, 4, 4, 1, -9999)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			g.SetValue(1, row, col, value)
		}
	}
	return g.Encode()
}

func nodataGrid(t *testing.T) []byte {
	t.Helper()
	g, err := raster.NewGrid([4]float64{30, -10, 34, -6}, 4, 4, 1, -9999)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g.Encode()
}

func fullExtent(t *testing.T) geo.AOI {
	t.Helper()
	aoi, err := geo.BBoxAOI(30, -10, 34, -6)
	if err != nil {
		t.Fatalf("BBoxAOI: %v", err)
	}
	return aoi
}

func TestZonalStatsRows(t *testing.T) {
	svc := testService(t, &fakeFetcher{grids: map[string][]byte{"2026-01-15": rampGrid(t)}})

	rows, err := svc.ZonalStats(context.Background(), ZonalStatsRequest{
		DatasetID:  "chirps-daily",
		Parameters: []string{"precip", "tmax"},
		Date:       "2026-01-15",
		Stats:      []string{"mean", "sum"},
		AOI:        fullExtent(t),
	})
	if err != nil {
		t.Fatalf("ZonalStats: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows (2 params x 2 stats), got %d", len(rows))
	}

	// Rows come back in request order: parameter-major, stat-minor.
	want := []struct {
		param, stat string
		value       float64
	}{
		{"precip", "mean", 8.5},
		{"precip", "sum", 136},
		{"tmax", "mean", 8.5},
		{"tmax", "sum", 136},
	}
	for i, w := range want {
		row := rows[i]
		if row.Parameter != w.param || row.Stat != w.stat {
			t.Fatalf("row %d: got (%s, %s), want (%s, %s)", i, row.Parameter, row.Stat, w.param, w.stat)
		}
		if row.Status != StatusComputed {
			t.Fatalf("row %d: status %s", i, row.Status)
		}
		if row.Value == nil || *row.Value != w.value {
			t.Fatalf("row %d: value %v, want %v", i, row.Value, w.value)
		}
		if row.Time != "2026-01-15" {
			t.Fatalf("row %d: time %q", i, row.Time)
		}
	}
}

func TestZonalStatsRequestValidation(t *testing.T) {
	svc := testService(t, &fakeFetcher{grids: map[string][]byte{}})
	aoi := fullExtent(t)

	cases := []struct {
		name string
		req  ZonalStatsRequest
		want error
	}{
		{"unknown dataset", ZonalStatsRequest{DatasetID: "nope", Parameters: []string{"precip"}, AOI: aoi}, ErrNotFound},
		{"unknown parameter", ZonalStatsRequest{DatasetID: "chirps-daily", Parameters: []string{"humidity"}, AOI: aoi}, ErrInvalidParameter},
		{"no parameters", ZonalStatsRequest{DatasetID: "chirps-daily", AOI: aoi}, ErrInvalidParameter},
		{"unknown stat", ZonalStatsRequest{DatasetID: "chirps-daily", Parameters: []string{"precip"}, Stats: []string{"mode"}, AOI: aoi}, raster.ErrUnsupportedStat},
		{"missing aoi", ZonalStatsRequest{DatasetID: "chirps-daily", Parameters: []string{"precip"}}, ErrInvalidAOI},
		{"bad date", ZonalStatsRequest{DatasetID: "chirps-daily", Parameters: []string{"precip"}, Date: "January 5", AOI: aoi}, ErrInvalidParameter},
	}
	for _, tc := range cases {
		if _, err := svc.ZonalStats(context.Background(), tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestZonalStatsRowStatuses(t *testing.T) {
	fetcher := &fakeFetcher{
		grids:  map[string][]byte{"2026-01-02": nodataGrid(t)},
		broken: map[string]bool{"2026-01-03": true},
	}
	svc := testService(t, fetcher)
	aoi := fullExtent(t)

	cases := []struct {
		date string
		want Status
	}{
		{"2026-01-01", StatusMissingAssets},
		{"2026-01-02", StatusNoData},
		{"2026-01-03", StatusReadError},
	}
	for _, tc := range cases {
		rows, err := svc.ZonalStats(context.Background(), ZonalStatsRequest{
			DatasetID:  "chirps-daily",
			Parameters: []string{"precip"},
			Date:       tc.date,
			AOI:        aoi,
		})
		if err != nil {
			t.Fatalf("%s: request failed: %v", tc.date, err)
		}
		if len(rows) != 1 {
			t.Fatalf("%s: expected one row, got %d", tc.date, len(rows))
		}
		if rows[0].Status != tc.want {
			t.Fatalf("%s: status %s, want %s", tc.date, rows[0].Status, tc.want)
		}
		if rows[0].Value != nil {
			t.Fatalf("%s: non-computed row carries value %v", tc.date, *rows[0].Value)
		}
	}
}

func TestPointTimeseriesOrderAndRestart(t *testing.T) {
	fetcher := &fakeFetcher{grids: map[string][]byte{
		"2026-01-01": constantGrid(t, 1),
		"2026-01-03": constantGrid(t, 3),
	}}
	svc := testService(t, fetcher)

	point, err := geo.PointAOI(30.5, -6.5)
	if err != nil {
		t.Fatalf("PointAOI: %v", err)
	}
	seq, err := svc.PointTimeseries(context.Background(), PointTimeseriesRequest{
		DatasetID: "chirps-daily",
		Parameter: "precip",
		Start:     "2026-01-01",
		End:       "2026-01-03",
		AOI:       point,
	})
	if err != nil {
		t.Fatalf("PointTimeseries: %v", err)
	}

	collect := func() []TimeSeriesPoint {
		var out []TimeSeriesPoint
		for p := range seq {
			out = append(out, p)
		}
		return out
	}

	first := collect()
	if len(first) != 3 {
		t.Fatalf("expected 3 points, got %d", len(first))
	}
	wantDates := []string{"2026-01-01", "2026-01-02", "2026-01-03"}
	for i, p := range first {
		if p.Date != wantDates[i] {
			t.Fatalf("point %d: date %q, want %q", i, p.Date, wantDates[i])
		}
	}
	if first[0].Status != StatusComputed || *first[0].Value != 1 {
		t.Fatalf("day 1: %+v", first[0])
	}
	if first[1].Status != StatusMissingAssets || first[1].Value != nil {
		t.Fatalf("day 2: %+v", first[1])
	}
	if first[2].Status != StatusComputed || *first[2].Value != 3 {
		t.Fatalf("day 3: %+v", first[2])
	}

	// The sequence is restartable and deterministic.
	second := collect()
	if len(second) != len(first) {
		t.Fatalf("restart yielded %d points, want %d", len(second), len(first))
	}
	for i := range first {
		if first[i].Date != second[i].Date || first[i].Status != second[i].Status {
			t.Fatalf("restart diverged at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestPointTimeseriesRequiresPointAOI(t *testing.T) {
	svc := testService(t, &fakeFetcher{grids: map[string][]byte{}})
	if _, err := svc.PointTimeseries(context.Background(), PointTimeseriesRequest{
		DatasetID: "chirps-daily",
		Parameter: "precip",
		Start:     "2026-01-01",
		End:       "2026-01-02",
		AOI:       fullExtent(t),
	}); !errors.Is(err, ErrInvalidAOI) {
		t.Fatalf("expected ErrInvalidAOI for bbox input, got %v", err)
	}
}

func TestAggregateMonthlySumOfDailyMeans(t *testing.T) {
	// One grid per January day, each with a constant value equal to the day
	// number, so the daily zonal mean equals the day number.
	grids := make(map[string][]byte, 31)
	for day := 1; day <= 31; day++ {
		date := time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		grids[date] = constantGrid(t, float64(day))
	}
	svc := testService(t, &fakeFetcher{grids: grids})

	row, err := svc.Aggregate(context.Background(), AggregateRequest{
		DatasetID:   "chirps-daily",
		Parameter:   "precip",
		Start:       "2026-01-01",
		End:         "2026-01-31",
		AOI:         fullExtent(t),
		Frequency:   "P1M",
		Aggregation: "sum",
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if row.SampleCount != 31 {
		t.Fatalf("sample count %d, want 31", row.SampleCount)
	}
	if row.MissingPeriods != 0 {
		t.Fatalf("missing periods %d, want 0", row.MissingPeriods)
	}
	if row.Status != StatusComputed || row.Value == nil {
		t.Fatalf("expected computed row, got %+v", row)
	}
	if *row.Value != 496 { // 1 + 2 + ... + 31
		t.Fatalf("value %v, want 496", *row.Value)
	}
	if row.Start != "2026-01-01" || row.End != "2026-01-31" {
		t.Fatalf("range %q..%q", row.Start, row.End)
	}
}

func TestAggregateCountsMissingPeriods(t *testing.T) {
	svc := testService(t, &fakeFetcher{grids: map[string][]byte{
		"2026-01-01": constantGrid(t, 2),
		"2026-01-03": constantGrid(t, 4),
		"2026-01-05": constantGrid(t, 6),
	}})

	row, err := svc.Aggregate(context.Background(), AggregateRequest{
		DatasetID: "chirps-daily",
		Parameter: "precip",
		Start:     "2026-01-01",
		End:       "2026-01-05",
		AOI:       fullExtent(t),
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if row.SampleCount != 3 || row.MissingPeriods != 2 {
		t.Fatalf("got samples=%d missing=%d, want 3 and 2", row.SampleCount, row.MissingPeriods)
	}
	if row.Value == nil || *row.Value != 4 { // mean of 2, 4, 6
		t.Fatalf("value %v, want 4", row.Value)
	}
}

func TestAggregateAllMissingYieldsNoData(t *testing.T) {
	svc := testService(t, &fakeFetcher{grids: map[string][]byte{}})

	row, err := svc.Aggregate(context.Background(), AggregateRequest{
		DatasetID: "chirps-daily",
		Parameter: "precip",
		Start:     "2026-01-01",
		End:       "2026-01-03",
		AOI:       fullExtent(t),
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if row.Status != StatusNoData {
		t.Fatalf("status %s, want no_data", row.Status)
	}
	if row.Value != nil {
		t.Fatalf("no_data row carries value %v", *row.Value)
	}
	if row.SampleCount != 0 || row.MissingPeriods != 3 {
		t.Fatalf("got samples=%d missing=%d, want 0 and 3", row.SampleCount, row.MissingPeriods)
	}
}

func TestAggregateValidation(t *testing.T) {
	svc := testService(t, &fakeFetcher{grids: map[string][]byte{}})
	aoi := fullExtent(t)

	if _, err := svc.Aggregate(context.Background(), AggregateRequest{
		DatasetID: "chirps-daily", Parameter: "precip",
		Start: "2026-01-01", End: "2026-01-31",
		AOI: aoi, Frequency: "fortnightly",
	}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for bad frequency, got %v", err)
	}
	if _, err := svc.Aggregate(context.Background(), AggregateRequest{
		DatasetID: "chirps-daily", Parameter: "precip",
		Start: "2026-01-01", End: "2026-01-31",
		AOI: aoi, Aggregation: "mode",
	}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for bad aggregation, got %v", err)
	}
	if _, err := svc.Aggregate(context.Background(), AggregateRequest{
		DatasetID: "chirps-daily", Parameter: "precip",
		Start: "2026-01-31", End: "2026-01-01",
		AOI: aoi,
	}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for inverted range, got %v", err)
	}
}

func TestParseFrequencySpellings(t *testing.T) {
	cases := map[string]Frequency{
		"":        FreqDaily,
		"daily":   FreqDaily,
		"P1D":     FreqDaily,
		"weekly":  FreqWeekly,
		"P1W":     FreqWeekly,
		"monthly": FreqMonthly,
		"P1M":     FreqMonthly,
	}
	for in, want := range cases {
		got, err := ParseFrequency(in)
		if err != nil {
			t.Fatalf("ParseFrequency(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseFrequency(%q) = %s, want %s", in, got, want)
		}
	}
}
