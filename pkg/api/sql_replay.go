package api

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// SQLReplayCache keeps replayable responses in the gateway database,
// so a repeated Idempotency-Key is honored across process restarts.
type SQLReplayCache struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLReplayCache creates a database-backed replay cache.
func NewSQLReplayCache(db *sql.DB, ttl time.Duration) *SQLReplayCache {
	return &SQLReplayCache{db: db, ttl: ttl}
}

// Init creates the idempotency_keys table if it does not exist.
func (c *SQLReplayCache) Init() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key         TEXT PRIMARY KEY,
		status_code INTEGER NOT NULL,
		headers     TEXT NOT NULL,
		body        BLOB,
		cached_at   TIMESTAMP NOT NULL
	)`)
	return err
}

func (c *SQLReplayCache) Lookup(key string) (*Reply, bool) {
	var rep Reply
	var headersJSON string

	err := c.db.QueryRow(
		`SELECT status_code, headers, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&rep.Status, &headersJSON, &rep.Body, &rep.StoredAt)
	if err != nil {
		return nil, false
	}

	if time.Since(rep.StoredAt) >= c.ttl {
		_, _ = c.db.Exec(`DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	rep.Header = make(http.Header)
	if err := json.Unmarshal([]byte(headersJSON), &rep.Header); err != nil {
		rep.Header = http.Header{"Content-Type": []string{"application/json"}}
	}
	return &rep, true
}

// Store persists a replayable response. Failures are logged, not
// surfaced: losing a replay entry only costs a duplicate submission
// check.
func (c *SQLReplayCache) Store(key string, reply Reply) {
	headersJSON, err := json.Marshal(reply.Header)
	if err != nil {
		headersJSON = []byte("{}")
	}
	_, err = c.db.Exec(
		`INSERT INTO idempotency_keys (key, status_code, headers, body, cached_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, headers = $3, body = $4, cached_at = $5`,
		key, reply.Status, string(headersJSON), reply.Body, time.Now().UTC(),
	)
	if err != nil {
		slog.Warn("replay cache: failed to store key", "key", key, "error", err)
	}
}

// Cleanup removes replay entries older than the TTL.
func (c *SQLReplayCache) Cleanup() {
	_, _ = c.db.Exec(
		`DELETE FROM idempotency_keys WHERE cached_at < $1`,
		time.Now().UTC().Add(-c.ttl),
	)
}
