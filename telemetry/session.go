package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/trace"
)

// SessionStore maps a browser session to the span context of its page-load
// root span, so later spans of the session join the same trace.
type SessionStore interface {
	Save(ctx context.Context, sessionID string, sc trace.SpanContext) error
	// Load reports false when the session is unknown or expired.
	Load(ctx context.Context, sessionID string) (trace.SpanContext, bool, error)
	Close() error
}

// DefaultMaxSessions bounds the in-memory session store.
const DefaultMaxSessions = 100_000

// maxSessionIDLength rejects keys no session id format comes close to.
const maxSessionIDLength = 64

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id has the canonical form NewSessionID
// produces. Ids from the network are checked with it before any lookup.
func ValidSessionID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// NewSessionStore creates the store selected by cfg.
func NewSessionStore(cfg SessionConfig) (SessionStore, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	switch cfg.Provider {
	case "", "memory":
		return NewMemorySessionStore(ttl, cfg.MaxSessions), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return NewRedisSessionStore(redis.NewClient(opts), ttl), nil
	default:
		return nil, fmt.Errorf("session provider %q: %w", cfg.Provider, ErrUnknownSessionStore)
	}
}

// encodeSpanContext renders sc as "traceid-spanid-flags".
func encodeSpanContext(sc trace.SpanContext) string {
	return sc.TraceID().String() + "-" + sc.SpanID().String() + "-" + sc.TraceFlags().String()
}

func decodeSpanContext(s string) (trace.SpanContext, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return trace.SpanContext{}, ErrInvalidSessionContext
	}
	tid, err := trace.TraceIDFromHex(parts[0])
	if err != nil {
		return trace.SpanContext{}, fmt.Errorf("%w: %v", ErrInvalidSessionContext, err)
	}
	sid, err := trace.SpanIDFromHex(parts[1])
	if err != nil {
		return trace.SpanContext{}, fmt.Errorf("%w: %v", ErrInvalidSessionContext, err)
	}
	var flags trace.TraceFlags
	if parts[2] == "01" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: flags,
		Remote:     true,
	}), nil
}

// MemorySessionStore keeps sessions in process memory, bounded to
// maxSessions entries; the least recently used session is evicted first and
// expired entries are swept in the background.
type MemorySessionStore struct {
	sessions *expirable.LRU[string, string]
}

// NewMemorySessionStore creates an in-memory store with the given ttl. A
// maxSessions <= 0 uses DefaultMaxSessions.
func NewMemorySessionStore(ttl time.Duration, maxSessions int) *MemorySessionStore {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &MemorySessionStore{
		sessions: expirable.NewLRU[string, string](maxSessions, nil, ttl),
	}
}

// Save stores sc for sessionID, replacing any previous entry.
func (m *MemorySessionStore) Save(_ context.Context, sessionID string, sc trace.SpanContext) error {
	if !sc.IsValid() {
		return ErrInvalidSessionContext
	}
	if len(sessionID) > maxSessionIDLength {
		return ErrInvalidSessionID
	}
	m.sessions.Add(sessionID, encodeSpanContext(sc))
	return nil
}

// Load returns the span context stored for sessionID.
func (m *MemorySessionStore) Load(_ context.Context, sessionID string) (trace.SpanContext, bool, error) {
	v, ok := m.sessions.Get(sessionID)
	if !ok {
		return trace.SpanContext{}, false, nil
	}
	sc, err := decodeSpanContext(v)
	if err != nil {
		return trace.SpanContext{}, false, err
	}
	return sc, true, nil
}

// Close drops every stored session
func (m *MemorySessionStore) Close() error {
	m.sessions.Purge()
	return nil
}

// Len returns the number of live sessions
func (m *MemorySessionStore) Len() int {
	return m.sessions.Len()
}

const sessionKeyPrefix = "frontend:session:"

// RedisSessionStore keeps sessions in Redis so several host replicas share
// one view of each session trace.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a store on client with the given ttl.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

// Save stores sc for sessionID with the store ttl.
func (r *RedisSessionStore) Save(ctx context.Context, sessionID string, sc trace.SpanContext) error {
	if !sc.IsValid() {
		return ErrInvalidSessionContext
	}
	if len(sessionID) > maxSessionIDLength {
		return ErrInvalidSessionID
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+sessionID, encodeSpanContext(sc), r.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the span context stored for sessionID.
func (r *RedisSessionStore) Load(ctx context.Context, sessionID string) (trace.SpanContext, bool, error) {
	val, err := r.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return trace.SpanContext{}, false, nil
	}
	if err != nil {
		return trace.SpanContext{}, false, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	sc, err := decodeSpanContext(val)
	if err != nil {
		return trace.SpanContext{}, false, err
	}
	return sc, true, nil
}

// Close closes the Redis client
func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}
