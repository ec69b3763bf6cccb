package httpapi

import (
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/geodata-aggregation/internal/format"
	"github.com/i474232898/geodata-aggregation/internal/jobs"
	"github.com/i474232898/geodata-aggregation/internal/pipeline"
	"github.com/i474232898/geodata-aggregation/internal/raster"
	"github.com/i474232898/geodata-aggregation/internal/registry"
)

var validate = validator.New()

// Process identifiers exposed by the execution endpoint.
const (
	ProcessZonalStats        = "raster.zonal-stats"
	ProcessPointTimeseries   = "raster.point-timeseries"
	ProcessTemporalAggregate = "data.temporal-aggregate"
)

// processDescription is the static metadata returned by the process listing.
type processDescription struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

var processes = []processDescription{
	{ProcessZonalStats, "Zonal statistics", "Reduce raster cells over an area of interest into statistics."},
	{ProcessPointTimeseries, "Point timeseries", "Daily values of one parameter at a point over a date range."},
	{ProcessTemporalAggregate, "Temporal aggregation", "Reduce daily zonal means over a date range into one value."},
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, reg *registry.Registry, service *pipeline.Service, store *jobs.MemoryStore) {
	v1 := app.Group("/api/v1")

	v1.Get("/datasets", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"datasets": reg.List()})
	})

	v1.Get("/datasets/:id", func(c *fiber.Ctx) error {
		def, err := reg.Resolve(c.Params("id"))
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to resolve dataset")
		}
		return c.JSON(def)
	})

	v1.Get("/processes", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"processes": processes})
	})

	v1.Post("/processes/:processID/execution", func(c *fiber.Ctx) error {
		var req executionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		processID := c.Params("processID")
		job := store.Create(processID)

		rows, err := runProcess(c, service, processID, req.Inputs)
		if err != nil {
			failed, _ := store.Fail(job.JobID, err.Error())
			return c.Status(statusFor(err)).JSON(failed)
		}

		outputs := jobs.Outputs{Rows: rows, Table: format.ToTable(rows)}
		if req.ImportMapping != nil {
			payload := format.ToImportPayload(rows, *req.ImportMapping)
			outputs.ImportPayload = &payload
		}
		done, err := store.Complete(job.JobID, outputs)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to record job outputs")
		}
		return c.Status(fiber.StatusCreated).JSON(done)
	})

	v1.Get("/jobs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"jobs": store.List()})
	})

	v1.Get("/jobs/:jobID", func(c *fiber.Ctx) error {
		record, err := store.Get(c.Params("jobID"))
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch job")
		}
		return c.JSON(record)
	})
}

// executionRequest is the body of a process execution. Inputs are decoded
// per process; the optional import mapping asks for a DHIS2 payload in the
// job outputs.
type executionRequest struct {
	Inputs        json.RawMessage       `json:"inputs" validate:"required"`
	ImportMapping *format.ImportMapping `json:"importMapping,omitempty"`
}

func runProcess(c *fiber.Ctx, service *pipeline.Service, processID string, inputs json.RawMessage) ([]pipeline.ComputedRow, error) {
	ctx := c.Context()
	switch processID {
	case ProcessZonalStats:
		var req pipeline.ZonalStatsRequest
		if err := json.Unmarshal(inputs, &req); err != nil {
			return nil, badInputs(err)
		}
		return service.ZonalStats(ctx, req)
	case ProcessPointTimeseries:
		var req pipeline.PointTimeseriesRequest
		if err := json.Unmarshal(inputs, &req); err != nil {
			return nil, badInputs(err)
		}
		return service.PointTimeseriesRows(ctx, req)
	case ProcessTemporalAggregate:
		var req pipeline.AggregateRequest
		if err := json.Unmarshal(inputs, &req); err != nil {
			return nil, badInputs(err)
		}
		row, err := service.Aggregate(ctx, req)
		if err != nil {
			return nil, err
		}
		return []pipeline.ComputedRow{row}, nil
	}
	return nil, errUnknownProcess
}

var errUnknownProcess = errors.New("unknown process id")

// badInputs keeps decode failures on the 400 path. AOI validation errors
// already carry the right sentinel; everything else maps to the parameter
// error.
func badInputs(err error) error {
	if errors.Is(err, pipeline.ErrInvalidAOI) {
		return err
	}
	return errors.Join(pipeline.ErrInvalidParameter, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnknownProcess), errors.Is(err, pipeline.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidParameter),
		errors.Is(err, pipeline.ErrInvalidAOI),
		errors.Is(err, raster.ErrUnsupportedStat):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}
