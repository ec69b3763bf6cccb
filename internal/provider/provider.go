// Package provider implements cache-first retrieval of raster assets keyed by
// (dataset, parameter, date, band). Remote sources only ever see cache misses,
// and concurrent requests for the same key coalesce into a single fetch.
package provider

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/i474232898/geodata-aggregation/internal/raster"
)

var (
	// ErrMissingAssets is returned when an asset is unavailable after a fetch
	// attempt. Failures are never cached; a later request retries the source.
	ErrMissingAssets = errors.New("raster asset unavailable")
)

// Key identifies a single cacheable raster asset.
type Key struct {
	DatasetID string
	Parameter string
	Date      time.Time // normalized to UTC midnight
	Band      int
}

// NewKey normalizes the date to UTC midnight and defaults the band to 1.
func NewKey(datasetID, parameter string, date time.Time, band int) Key {
	d := date.UTC()
	if band <= 0 {
		band = 1
	}
	return Key{
		DatasetID: datasetID,
		Parameter: parameter,
		Date:      time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		Band:      band,
	}
}

// String returns the canonical cache/coalescing key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/b%d", k.DatasetID, k.Parameter, k.Date.Format("2006-01-02"), k.Band)
}

// AssetHandle points at a cached raster asset on local disk.
type AssetHandle struct {
	Key       Key
	Path      string
	Size      int64
	FetchedAt time.Time
	FromCache bool
}

// Open reads and decodes the cached grid. IO and decode failures surface so
// callers can record a read error for the affected row.
func (h AssetHandle) Open() (*raster.Grid, error) {
	data, err := os.ReadFile(h.Path)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", h.Key, err)
	}
	grid, err := raster.DecodeGrid(data)
	if err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", h.Key, err)
	}
	return grid, nil
}
