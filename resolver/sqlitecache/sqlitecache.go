// Package sqlitecache provides a resolver.CacheStore backed by a
// modernc.org/sqlite database, giving the resolver cache a persisted
// alternative to resolver.MemoryCache.
package sqlitecache

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/resolver"
)

const schema = `
CREATE TABLE IF NOT EXISTS resolver_cache (
	url           TEXT PRIMARY KEY,
	body          BLOB NOT NULL,
	etag          TEXT NOT NULL DEFAULT '',
	last_modified TEXT NOT NULL DEFAULT '',
	stored_at     INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL
);`

// Store is a resolver.CacheStore persisted to a SQLite database file (or
// ":memory:"). The key is the absolute URL; the value layout matches
// resolver.CacheEntry exactly.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite-backed cache store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, problem.Wrap(problem.InternalError, "failed to open sqlite resolver cache", err)
	}
	// The pure-Go modernc.org/sqlite driver serializes internally; cap to a
	// single connection to avoid "database is locked" under concurrent use.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, problem.Wrap(problem.InternalError, "failed to migrate sqlite resolver cache schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(key string) (resolver.CacheEntry, bool) {
	row := s.db.QueryRow(`SELECT body, etag, last_modified, stored_at, expires_at FROM resolver_cache WHERE url = ?`, key)
	var entry resolver.CacheEntry
	var storedAt, expiresAt int64
	if err := row.Scan(&entry.Body, &entry.ETag, &entry.LastModified, &storedAt, &expiresAt); err != nil {
		return resolver.CacheEntry{}, false
	}
	entry.StoredAt = time.Unix(storedAt, 0).UTC()
	entry.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return entry, true
}

func (s *Store) Put(key string, entry resolver.CacheEntry) {
	_, _ = s.db.Exec(
		`INSERT INTO resolver_cache (url, body, etag, last_modified, stored_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
			body = excluded.body,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at`,
		key, entry.Body, entry.ETag, entry.LastModified, entry.StoredAt.Unix(), entry.ExpiresAt.Unix(),
	)
}

func (s *Store) Delete(key string) {
	_, _ = s.db.Exec(`DELETE FROM resolver_cache WHERE url = ?`, key)
}

func (s *Store) Clear() {
	_, _ = s.db.Exec(`DELETE FROM resolver_cache`)
}

var _ resolver.CacheStore = (*Store)(nil)
