package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/geodata-aggregation/internal/scheduler"
)

type AppConfig struct {
	// DatasetsDir holds the dataset definition YAML files.
	DatasetsDir string

	// CacheDir is the root of the on-disk raster asset cache.
	CacheDir string

	// FetchTimeout bounds one remote asset fetch.
	FetchTimeout time.Duration

	// Object store credentials, required only when a dataset uses the
	// object-store provider.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	// Cache warmup.
	WarmupTargets  []scheduler.Target
	WarmupDays     int
	WarmupInterval time.Duration

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}

	cfg.DatasetsDir = getenvDefault("DATASETS_DIR", "configs/datasets")
	cfg.CacheDir = getenvDefault("CACHE_DIR", ".cache/assets")

	timeoutStr := getenvDefault("FETCH_TIMEOUT", "30s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_TIMEOUT: %w", err)
	}
	cfg.FetchTimeout = timeout

	cfg.MinioEndpoint = os.Getenv("MINIO_ENDPOINT")
	cfg.MinioAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	cfg.MinioSecretKey = os.Getenv("MINIO_SECRET_KEY")
	cfg.MinioUseSSL = getenvDefault("MINIO_USE_SSL", "false") == "true"

	targets, err := loadWarmupTargets()
	if err != nil {
		return nil, err
	}
	cfg.WarmupTargets = targets
	cfg.WarmupDays = getenvInt("WARMUP_DAYS", 7)

	warmupStr := getenvDefault("WARMUP_INTERVAL", "1h")
	warmupInterval, err := time.ParseDuration(warmupStr)
	if err != nil {
		return nil, fmt.Errorf("invalid WARMUP_INTERVAL: %w", err)
	}
	cfg.WarmupInterval = warmupInterval

	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

// loadWarmupTargets parses WARMUP_DATASETS, a comma-separated list of
// dataset:parameter pairs.
func loadWarmupTargets() ([]scheduler.Target, error) {
	raw := os.Getenv("WARMUP_DATASETS")
	if raw == "" {
		return nil, nil
	}
	var targets []scheduler.Target
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		dataset, parameter, ok := strings.Cut(entry, ":")
		if !ok || dataset == "" || parameter == "" {
			return nil, fmt.Errorf("invalid WARMUP_DATASETS entry %q; want dataset:parameter", entry)
		}
		targets = append(targets, scheduler.Target{DatasetID: dataset, Parameter: parameter})
	}
	return targets, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
