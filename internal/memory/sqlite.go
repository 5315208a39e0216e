package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/agentcore/runtime/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	key   TEXT NOT NULL,
	seq   INTEGER NOT NULL,
	message TEXT NOT NULL,
	PRIMARY KEY (key, seq)
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_key ON memory_entries(key);
`

const (
	busyMaxRetries    = 10
	busyBackoffStepMs = 50
	busyMaxBackoff    = time.Second
)

// FileStore is a SQLite-backed Store, for conversations that must survive a
// process restart. Grounded on the teacher's store.Cache: same WAL pragmas,
// same busy-retry backoff loop, generalized from a single fetch/search cache
// table to a per-key ordered message log.
type FileStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenFileStore creates or opens a SQLite database at dbPath.
func OpenFileStore(dbPath string) (*FileStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
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

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &FileStore{db: db}, nil
}

// Close closes the underlying database.
func (f *FileStore) Close() error {
	if f == nil {
		return nil
	}
	return f.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs fn, retrying on SQLITE_BUSY with linear backoff capped at
// busyMaxBackoff, mirroring the teacher's SaveMessages retry loop.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyMaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) || attempt == busyMaxRetries {
			return err
		}
		backoff := time.Duration(attempt+1) * busyBackoffStepMs * time.Millisecond
		if backoff > busyMaxBackoff {
			backoff = busyMaxBackoff
		}
		time.Sleep(backoff)
	}
	return err
}

func (f *FileStore) Get(ctx context.Context, key string) ([]ports.Message, error) {
	var out []ports.Message
	err := withRetry(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()

		rows, err := f.db.QueryContext(ctx,
			`SELECT message FROM memory_entries WHERE key = ? ORDER BY seq`, key)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			var msg ports.Message
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			out = append(out, msg)
		}
		return rows.Err()
	})
	return out, err
}

func (f *FileStore) Set(ctx context.Context, key string, messages []ports.Message) error {
	return withRetry(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()

		tx, err := f.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entries WHERE key = ?`, key); err != nil {
			tx.Rollback()
			return err
		}
		for i, msg := range messages {
			raw, err := json.Marshal(msg)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("encode message: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memory_entries (key, seq, message) VALUES (?, ?, ?)`,
				key, i, string(raw)); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// Append inserts msg at the next sequence number for key. The insert and the
// seq lookup happen inside the same held mutex, so concurrent Append calls
// for the same key never race on seq allocation.
func (f *FileStore) Append(ctx context.Context, key string, msg ports.Message) error {
	return withRetry(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()

		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}

		tx, err := f.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		var nextSeq int
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM memory_entries WHERE key = ?`, key,
		).Scan(&nextSeq)
		if err != nil {
			tx.Rollback()
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_entries (key, seq, message) VALUES (?, ?, ?)`,
			key, nextSeq, string(raw)); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	return withRetry(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, err := f.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE key = ?`, key)
		return err
	})
}

func (f *FileStore) Keys(ctx context.Context) ([]string, error) {
	var out []string
	err := withRetry(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		rows, err := f.db.QueryContext(ctx, `SELECT DISTINCT key FROM memory_entries`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = nil
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				return err
			}
			out = append(out, k)
		}
		return rows.Err()
	})
	return out, err
}

func (f *FileStore) Clear(ctx context.Context) error {
	return withRetry(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, err := f.db.ExecContext(ctx, `DELETE FROM memory_entries`)
		return err
	})
}

func (f *FileStore) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	keys, err := f.Keys(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	out := make(map[string][]ports.Message, len(keys))
	for _, k := range keys {
		msgs, err := f.Get(ctx, k)
		if err != nil {
			return Snapshot{}, err
		}
		out[k] = msgs
	}
	return Snapshot{Conversations: out}, nil
}

// ImportSnapshot replaces the store's entire contents with snap, logging a
// warning (rather than failing) per key that fails to write, so a partially
// corrupt snapshot doesn't block recovery of everything else.
func (f *FileStore) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := f.Clear(ctx); err != nil {
		return err
	}
	for key, msgs := range snap.Conversations {
		if err := f.Set(ctx, key, msgs); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to import memory snapshot key")
		}
	}
	return nil
}
