package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache is a directory of immutable raster assets, one file per key. Entries
// are created once via an atomic rename and never mutated; eviction is left to
// external cleanup.
type Cache struct {
	dir string
}

// NewCache ensures the cache directory exists.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Path returns the cache file location for a key.
func (c *Cache) Path(key Key) string {
	name := fmt.Sprintf("%s_b%d.grid", key.Date.Format("2006-01-02"), key.Band)
	return filepath.Join(c.dir, key.DatasetID, key.Parameter, name)
}

// Lookup returns a handle when the backing file is present and non-empty.
func (c *Cache) Lookup(key Key) (AssetHandle, bool) {
	path := c.Path(key)
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return AssetHandle{}, false
	}
	return AssetHandle{
		Key:       key,
		Path:      path,
		Size:      info.Size(),
		FetchedAt: info.ModTime(),
		FromCache: true,
	}, true
}

// Store persists asset bytes for a key. The payload is written to a temporary
// file in the target directory and renamed into place, so a crash mid-write
// never leaves a partial entry visible to readers.
func (c *Cache) Store(key Key, data []byte) (AssetHandle, error) {
	path := c.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return AssetHandle{}, fmt.Errorf("create asset dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".fetch-*")
	if err != nil {
		return AssetHandle{}, fmt.Errorf("create temp asset: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return AssetHandle{}, fmt.Errorf("write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return AssetHandle{}, fmt.Errorf("close asset: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return AssetHandle{}, fmt.Errorf("publish asset: %w", err)
	}

	return AssetHandle{
		Key:       key,
		Path:      path,
		Size:      int64(len(data)),
		FetchedAt: time.Now().UTC(),
		FromCache: false,
	}, nil
}
