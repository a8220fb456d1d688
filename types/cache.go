package types

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// KeyValueStore is the shared keyspace every application instance talks to.
// Get fails open: a store error is logged by the implementation and reported
// as an absent key.
type KeyValueStore interface {
	LifecycleManager
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Scan walks every key matching the glob pattern, handing each batch to fn.
	// It returns only after the cursor has come back to its start.
	Scan(ctx context.Context, pattern string, fn func(keys []string) error) error
	Info(ctx context.Context) (StoreInfo, error)
	Increment(ctx context.Context, deltas map[string]int64) error
	Counters(ctx context.Context, keys ...string) ([]int64, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	Ping(ctx context.Context) error
}

type KeyValueStoreCreator func(config interface{}) (KeyValueStore, error)

type StoreInfo struct {
	UsedMemory               string `json:"used_memory"`
	UsedMemoryPeak           string `json:"used_memory_peak"`
	TotalConnectionsReceived int64  `json:"total_connections_received"`
	TotalCommandsProcessed   int64  `json:"total_commands_processed"`
	KeyspaceHits             int64  `json:"keyspace_hits"`
	KeyspaceMisses           int64  `json:"keyspace_misses"`
	HitRate                  string `json:"hit_rate,omitempty"`
	ConnectedClients         int64  `json:"connected_clients"`
}

// RequestDescriptor is everything the cache needs to know about an inbound read.
type RequestDescriptor struct {
	Method    string
	Path      string
	Query     map[string][]string
	UserID    string
	Args      []string
	NamedArgs map[string]string
}

func (r RequestDescriptor) Authenticated() bool {
	return r.UserID != ""
}

// FlatQuery returns the last value of every query parameter, sorted access
// is left to the caller.
func (r RequestDescriptor) FlatQuery() map[string]string {
	if len(r.Query) == 0 {
		return nil
	}

	flat := make(map[string]string, len(r.Query))
	for name, values := range r.Query {
		if len(values) == 0 {
			flat[name] = ""
			continue
		}
		flat[name] = values[len(values)-1]
	}

	return flat
}

func (r RequestDescriptor) QueryNames() []string {
	names := make([]string, 0, len(r.Query))
	for name := range r.Query {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Response is a fully materialized handler result.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Headers     map[string]string
}

func (r *Response) Successful() bool {
	return r != nil && r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// CachedEntry is the stored form of a Response.
type CachedEntry struct {
	StatusCode  int               `msgpack:"s"`
	Body        []byte            `msgpack:"b"`
	ContentType string            `msgpack:"c"`
	Headers     map[string]string `msgpack:"h"`
	StoredAt    time.Time         `msgpack:"t"`
}

type Producer func() *Response

type ViewConfig struct {
	Name string
	TTL  time.Duration
}

type Outcome string

const (
	OutcomeHit    Outcome = "hit"
	OutcomeMiss   Outcome = "miss"
	OutcomeBypass Outcome = "bypass"
)

// CacheGateway serves reads through the cache.
type CacheGateway interface {
	Serve(ctx context.Context, view ViewConfig, req RequestDescriptor, produce Producer) (*Response, Outcome)
}

// Invalidator purges cached views after an entity write has been committed.
type Invalidator interface {
	Invalidate(ctx context.Context, model, id string, related ...string) (InvalidationResult, error)
	Flush(ctx context.Context) (int, error)
}

type InvalidationResult struct {
	Model    string   `json:"model"`
	Patterns []string `json:"patterns"`
	Deleted  int      `json:"deleted"`
	Flushed  int      `json:"flushed"`
	Failed   []string `json:"failed,omitempty"`
}
