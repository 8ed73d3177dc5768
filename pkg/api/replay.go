package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// Mutating gateway routes accept an Idempotency-Key header. Repeating
// a key replays the first successful response instead of submitting to
// the authority again, so operator retries cannot double-send an
// operation. Keys are scoped to method and path: reusing one key
// across voyages or operations never crosses responses.

// Reply is one cached successful response.
type Reply struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// ReplayCache stores successful responses for idempotent replay.
type ReplayCache interface {
	Lookup(key string) (*Reply, bool)
	Store(key string, reply Reply)
}

// MemoryReplayCache is the single-process cache used when the gateway
// runs without a database. Replays do not survive a restart.
type MemoryReplayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	replies map[string]Reply
}

// NewMemoryReplayCache creates a cache whose entries expire after ttl.
func NewMemoryReplayCache(ttl time.Duration) *MemoryReplayCache {
	c := &MemoryReplayCache{ttl: ttl, replies: make(map[string]Reply)}
	go c.evictLoop()
	return c
}

func (c *MemoryReplayCache) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-c.ttl)
		c.mu.Lock()
		for k, rep := range c.replies {
			if rep.StoredAt.Before(cutoff) {
				delete(c.replies, k)
			}
		}
		c.mu.Unlock()
	}
}

func (c *MemoryReplayCache) Lookup(key string) (*Reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rep, ok := c.replies[key]
	if !ok || time.Since(rep.StoredAt) >= c.ttl {
		return nil, false
	}
	return &rep, true
}

func (c *MemoryReplayCache) Store(key string, reply Reply) {
	c.mu.Lock()
	c.replies[key] = reply
	c.mu.Unlock()
}

// replayKey scopes the caller's key to the route.
func replayKey(r *http.Request, key string) string {
	return r.Method + " " + r.URL.Path + " " + key
}

// replyRecorder tees the response so a success can be cached.
type replyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rr *replyRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *replyRecorder) Write(b []byte) (int, error) {
	rr.body.Write(b)
	return rr.ResponseWriter.Write(b)
}

// ReplayMiddleware replays cached successes for repeated
// Idempotency-Key values on POST routes. Replayed responses carry an
// Idempotency-Replayed header so operators can tell a replay from a
// fresh submission. Non-2xx responses are never cached; a blocked or
// failed send stays retryable under the same key.
func ReplayMiddleware(cache ReplayCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			scoped := replayKey(r, key)

			if rep, ok := cache.Lookup(scoped); ok {
				for name, vals := range rep.Header {
					// The replay keeps its own request id.
					if name == "X-Request-Id" {
						continue
					}
					w.Header()[name] = vals
				}
				w.Header().Set("Idempotency-Replayed", "true")
				w.WriteHeader(rep.Status)
				_, _ = w.Write(rep.Body)
				return
			}

			rec := &replyRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				cache.Store(scoped, Reply{
					Status:   rec.status,
					Header:   w.Header().Clone(),
					Body:     rec.body.Bytes(),
					StoredAt: time.Now(),
				})
			}
		})
	}
}
