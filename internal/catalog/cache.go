package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

const (
	cacheSubdirectory = "catalog"
	cacheFileSuffix   = ".json"
)

type cacheEntry struct {
	StoredAt time.Time       `json:"storedAt"`
	Body     json.RawMessage `json:"body"`
}

// DiskCache keeps catalog responses as files under <dir>/catalog.
type DiskCache struct {
	fs    afero.Fs
	dir   string
	ttl   time.Duration
	clock func() time.Time
}

// NewDiskCache constructs a cache rooted at dir. A non-positive ttl disables caching.
func NewDiskCache(fs afero.Fs, dir string, ttl time.Duration, clock func() time.Time) *DiskCache {
	if clock == nil {
		clock = time.Now
	}
	return &DiskCache{
		fs:    fs,
		dir:   filepath.Join(dir, cacheSubdirectory),
		ttl:   ttl,
		clock: clock,
	}
}

// Get returns the cached body for key when present and fresh.
func (c *DiskCache) Get(key string) ([]byte, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	payload, err := afero.ReadFile(c.fs, c.filePath(key))
	if err != nil {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, false
	}
	if c.clock().Sub(entry.StoredAt) >= c.ttl {
		return nil, false
	}
	return entry.Body, true
}

// Put stores body under key. The write goes to a temporary file first.
func (c *DiskCache) Put(key string, body []byte) error {
	if c == nil || c.ttl <= 0 {
		return nil
	}
	if !json.Valid(body) {
		return errors.New("catalog cache: body is not valid json")
	}
	payload, err := json.Marshal(cacheEntry{StoredAt: c.clock().UTC(), Body: body})
	if err != nil {
		return err
	}
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	target := c.filePath(key)
	temporary := target + ".tmp"
	if err := afero.WriteFile(c.fs, temporary, payload, 0o644); err != nil {
		return err
	}
	if err := c.fs.Rename(temporary, target); err != nil {
		_ = c.fs.Remove(temporary)
		return err
	}
	return nil
}

// Invalidate removes the entry for key.
func (c *DiskCache) Invalidate(key string) error {
	if c == nil {
		return nil
	}
	err := c.fs.Remove(c.filePath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *DiskCache) filePath(key string) string {
	return filepath.Join(c.dir, key+cacheFileSuffix)
}

func cacheKey(requestPath, encodedQuery string) string {
	sum := sha256.Sum256([]byte(requestPath + "?" + encodedQuery))
	return hex.EncodeToString(sum[:])
}
