package tools

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // register sqlite driver
)

const fetchCacheSchema = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	url     TEXT PRIMARY KEY,
	result  TEXT NOT NULL,
	created INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_created ON fetch_cache(created);
`

// FetchCache is a SQLite-backed cache for WebFetch results, keyed by URL
// and expired on a fixed TTL. A nil *FetchCache is a valid always-miss
// cache, so WebFetch works without one configured.
type FetchCache struct {
	mu  sync.Mutex
	db  *sql.DB
	ttl time.Duration
}

// OpenFetchCache creates or opens a cache database at dbPath.
func OpenFetchCache(dbPath string, ttl time.Duration) (*FetchCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open fetch cache db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(fetchCacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	c := &FetchCache{db: db, ttl: ttl}
	c.purgeStale()
	return c, nil
}

// Close closes the underlying database. Safe on a nil receiver.
func (c *FetchCache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns a cached fetch result for url, or a miss if absent or stale.
// Safe on a nil receiver.
func (c *FetchCache) Get(url string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl).Unix()
	var result string
	err := c.db.QueryRow(
		"SELECT result FROM fetch_cache WHERE url = ? AND created > ?",
		url, cutoff,
	).Scan(&result)
	if err != nil {
		return "", false
	}
	return result, true
}

// Set stores a fetch result. No-op on a nil receiver.
func (c *FetchCache) Set(url, result string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO fetch_cache (url, result, created) VALUES (?, ?, ?)",
		url, result, time.Now().Unix(),
	)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to cache WebFetch result")
	}
}

func (c *FetchCache) purgeStale() {
	cutoff := time.Now().Add(-c.ttl).Unix()
	res, err := c.db.Exec("DELETE FROM fetch_cache WHERE created <= ?", cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("failed to purge stale WebFetch cache entries")
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Info().Int64("deleted", n).Msg("purged stale WebFetch cache entries")
	}
}
