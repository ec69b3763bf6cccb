// Package registry holds the in-memory dataset catalog. Definitions are
// loaded once from YAML files at startup and resolved on every request; a
// reload swaps the whole snapshot atomically so readers never observe a
// partially-built catalog.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when a dataset id is absent from the catalog.
	ErrNotFound = errors.New("dataset not found")

	// ErrInvalidParameter is returned for parameter keys a dataset does not
	// define, and reused by callers for other invalid request values.
	ErrInvalidParameter = errors.New("invalid parameter value")
)

// ParameterMetadata describes one dataset parameter.
type ParameterMetadata struct {
	Units       string `yaml:"units" json:"units,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// TemporalInterval is a dataset's time coverage; an empty End means open-ended.
type TemporalInterval struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end,omitempty"`
}

// ProviderConfig binds a dataset to a raster source implementation by name.
type ProviderConfig struct {
	Name    string            `yaml:"name" json:"name"`
	Options map[string]string `yaml:"options" json:"options,omitempty"`
}

// DatasetDefinition is one entry of the catalog. Definitions are immutable
// after load; a reload replaces the mapping wholesale.
type DatasetDefinition struct {
	ID               string                       `yaml:"id" json:"id"`
	Title            string                       `yaml:"title" json:"title"`
	Description      string                       `yaml:"description" json:"description,omitempty"`
	Keywords         []string                     `yaml:"keywords" json:"keywords,omitempty"`
	SpatialBBox      [4]float64                   `yaml:"spatial_bbox" json:"spatialBbox"`
	TemporalInterval TemporalInterval             `yaml:"temporal_interval" json:"temporalInterval"`
	Parameters       map[string]ParameterMetadata `yaml:"parameters" json:"parameters"`
	Provider         ProviderConfig               `yaml:"provider" json:"provider"`
}

func (d *DatasetDefinition) validate(path string) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%s: dataset id is required", path)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%s: dataset %q: title is required", path, d.ID)
	}
	if d.SpatialBBox[0] >= d.SpatialBBox[2] || d.SpatialBBox[1] >= d.SpatialBBox[3] {
		return fmt.Errorf("%s: dataset %q: spatial_bbox ordering must be [minx, miny, maxx, maxy]", path, d.ID)
	}
	if strings.TrimSpace(d.TemporalInterval.Start) == "" {
		return fmt.Errorf("%s: dataset %q: temporal_interval.start is required", path, d.ID)
	}
	if len(d.Parameters) == 0 {
		return fmt.Errorf("%s: dataset %q: at least one parameter must be defined", path, d.ID)
	}
	if strings.TrimSpace(d.Provider.Name) == "" {
		return fmt.Errorf("%s: dataset %q: provider.name is required", path, d.ID)
	}
	return nil
}

// catalog is one immutable snapshot of the loaded definitions.
type catalog struct {
	byID map[string]*DatasetDefinition
	ids  []string // sorted
}

// Registry resolves dataset and parameter lookups against the current catalog
// snapshot. Build it once at startup and inject it wherever needed.
type Registry struct {
	current atomic.Pointer[catalog]
}

// Load reads every *.yml/*.yaml file under dir (one dataset per file) and
// builds the registry. Any parse or validation error fails the load outright.
func Load(dir string) (*Registry, error) {
	snapshot, err := loadCatalog(dir)
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.current.Store(snapshot)
	return r, nil
}

// Reload replaces the catalog with a freshly loaded snapshot. On error the
// previous snapshot stays in place untouched.
func (r *Registry) Reload(dir string) error {
	snapshot, err := loadCatalog(dir)
	if err != nil {
		return err
	}
	r.current.Store(snapshot)
	return nil
}

// Resolve returns the definition for a dataset id.
func (r *Registry) Resolve(datasetID string) (*DatasetDefinition, error) {
	def, ok := r.current.Load().byID[datasetID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, datasetID)
	}
	return def, nil
}

// ResolveParameter returns metadata for one parameter of a dataset.
func (r *Registry) ResolveParameter(datasetID, parameter string) (ParameterMetadata, error) {
	def, err := r.Resolve(datasetID)
	if err != nil {
		return ParameterMetadata{}, err
	}
	meta, ok := def.Parameters[parameter]
	if !ok {
		return ParameterMetadata{}, fmt.Errorf("%w: dataset %q has no parameter %q", ErrInvalidParameter, datasetID, parameter)
	}
	return meta, nil
}

// List returns all definitions ordered by dataset id.
func (r *Registry) List() []*DatasetDefinition {
	snapshot := r.current.Load()
	out := make([]*DatasetDefinition, 0, len(snapshot.ids))
	for _, id := range snapshot.ids {
		out = append(out, snapshot.byID[id])
	}
	return out
}

func loadCatalog(dir string) (*catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read datasets dir: %w", err)
	}

	byID := make(map[string]*DatasetDefinition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read dataset definition: %w", err)
		}

		var def DatasetDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := def.validate(path); err != nil {
			return nil, err
		}
		if _, exists := byID[def.ID]; exists {
			return nil, fmt.Errorf("%s: duplicate dataset id %q", path, def.ID)
		}
		byID[def.ID] = &def
	}

	if len(byID) == 0 {
		return nil, fmt.Errorf("no dataset definitions found in %s", dir)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return &catalog{byID: byID, ids: ids}, nil
}
