package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/i474232898/geodata-aggregation/internal/registry"
)

// Source names form a closed, compile-time-checked set. Dataset definitions
// bind to one of these by name; anything else is a startup error.
const (
	SourceHTTP        = "http"
	SourceObjectStore = "object-store"
)

// Source fetches raw asset bytes for a key from a remote origin. The transport
// behind a source (HTTP, object storage) is its own concern; callers only see
// "bytes for this key or an error".
type Source interface {
	Name() string
	Fetch(ctx context.Context, key Key) ([]byte, error)
}

// SourceDeps carries the shared clients sources are built from.
type SourceDeps struct {
	Client      *http.Client
	ObjectStore *minio.Client
}

// BuildSource resolves a dataset's provider configuration to a concrete source
// implementation. The mapping is a closed switch; unknown provider names fail
// at startup rather than at request time.
func BuildSource(cfg registry.ProviderConfig, deps SourceDeps) (Source, error) {
	switch cfg.Name {
	case SourceHTTP:
		return newHTTPSource(cfg.Options, deps.Client)
	case SourceObjectStore:
		return newObjectSource(cfg.Options, deps.ObjectStore)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Name)
	}
}

// expandKeyTemplate substitutes {dataset}, {parameter}, {date} and {band}
// placeholders in a source path template.
func expandKeyTemplate(template string, key Key) string {
	r := strings.NewReplacer(
		"{dataset}", key.DatasetID,
		"{parameter}", key.Parameter,
		"{date}", key.Date.Format("2006-01-02"),
		"{band}", strconv.Itoa(key.Band),
	)
	return r.Replace(template)
}
