package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/geodata-aggregation/internal/jobs"
	"github.com/i474232898/geodata-aggregation/internal/pipeline"
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
provider:
  name: http
  options:
    url_template: https://data.example.org/{parameter}/{date}.grid
`

// fixedFetcher serves the same grid for every key.
type fixedFetcher struct {
	path string
}

func (f *fixedFetcher) Fetch(ctx context.Context, key provider.Key) (provider.AssetHandle, error) {
	return provider.AssetHandle{Key: key, Path: f.path, FromCache: true}, nil
}

func testApp(t *testing.T) (*fiber.App, *jobs.MemoryStore) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chirps-daily.yaml"), []byte(datasetYAML), 0o644); err != nil {
		t.Fatalf("write dataset definition: %v", err)
	}
	reg, err := registry.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	g, err := raster.NewGrid([4]float64{30, -10, 34, -6}, 4, 4, 1, -9999)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			g.SetValue(1, row, col, 2)
		}
	}
	gridPath := filepath.Join(t.TempDir(), "fixed.grid")
	if err := os.WriteFile(gridPath, g.Encode(), 0o644); err != nil {
		t.Fatalf("write grid: %v", err)
	}

	service := pipeline.NewService(reg, map[string]pipeline.AssetFetcher{
		"chirps-daily": &fixedFetcher{path: gridPath},
	})
	store := jobs.NewMemoryStore()

	app := fiber.New()
	RegisterRoutes(app, reg, service, store)
	return app, store
}

func TestListDatasets(t *testing.T) {
	app, _ := testApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var body struct {
		Datasets []registry.DatasetDefinition `json:"datasets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Datasets) != 1 || body.Datasets[0].ID != "chirps-daily" {
		t.Fatalf("unexpected datasets %v", body.Datasets)
	}
}

func TestGetDatasetNotFound(t *testing.T) {
	app, _ := testApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/datasets/nope", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestExecuteZonalStats(t *testing.T) {
	app, _ := testApp(t)

	body := `{
		"inputs": {
			"datasetId": "chirps-daily",
			"parameters": ["precip"],
			"date": "2026-01-15",
			"stats": ["mean", "sum"],
			"aoi": [30, -10, 34, -6]
		},
		"importMapping": {
			"dataElements": {"precip": "de1precipXX"},
			"orgUnit": "ouDistrictX"
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/processes/raster.zonal-stats/execution", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}

	var record jobs.JobRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.Status != jobs.StatusSuccessful {
		t.Fatalf("job status %s, want successful", record.Status)
	}
	if len(record.Outputs.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(record.Outputs.Rows))
	}
	if record.Outputs.Rows[0].Value == nil || *record.Outputs.Rows[0].Value != 2 {
		t.Fatalf("unexpected mean row %+v", record.Outputs.Rows[0])
	}
	if len(record.Outputs.Table) != 2 {
		t.Fatalf("expected table output alongside rows, got %d records", len(record.Outputs.Table))
	}
	if record.Outputs.ImportPayload == nil || len(record.Outputs.ImportPayload.DataValues) != 2 {
		t.Fatalf("expected import payload with 2 data values, got %+v", record.Outputs.ImportPayload)
	}
	if record.Outputs.ImportPayload.DataValues[0].Period != "20260115" {
		t.Fatalf("unexpected period %q", record.Outputs.ImportPayload.DataValues[0].Period)
	}

	// The job stays retrievable by id afterwards.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+record.JobID, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for job lookup, got %d", resp.StatusCode)
	}
}

func TestExecuteUnknownProcess(t *testing.T) {
	app, _ := testApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/processes/raster.levitate/execution",
		bytes.NewBufferString(`{"inputs": {"datasetId": "chirps-daily"}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestExecuteInvalidInputs(t *testing.T) {
	app, store := testApp(t)

	// Unknown parameter fails the whole request and the job with it.
	body := `{"inputs": {"datasetId": "chirps-daily", "parameters": ["humidity"], "aoi": [30, -10, 34, -6]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/processes/raster.zonal-stats/execution", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.StatusCode)
	}

	var record jobs.JobRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.Status != jobs.StatusFailed {
		t.Fatalf("job status %s, want failed", record.Status)
	}
	stored, err := store.Get(record.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != jobs.StatusFailed || len(stored.Outputs.Errors) == 0 {
		t.Fatalf("stored job %+v, want failed with errors", stored)
	}

	// Missing inputs block never reaches the pipeline.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/processes/raster.zonal-stats/execution", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing inputs, got %d", resp.StatusCode)
	}
}

func TestJobNotFound(t *testing.T) {
	app, _ := testApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
}
