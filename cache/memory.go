package cache

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateRunning
)

const defaultCleanupInterval = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is a single-process stand-in for Redis used in development and
// tests. Keys match with path.Match globbing, which treats '/' as a separator.
type MemoryStore struct {
	logger          types.Logger
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	data            map[string]memoryEntry
	sets            map[string]map[string]float64
	hits            uint64
	misses          uint64
	commands        uint64
	mu              sync.RWMutex
	state           atomic.Value
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

func NewMemoryStore(logger types.Logger, config *types.StoreConfig) *MemoryStore {
	m := &MemoryStore{
		logger:          logger,
		cleanupInterval: defaultCleanupInterval,
		data:            make(map[string]memoryEntry),
		sets:            make(map[string]map[string]float64),
	}

	if config != nil {
		m.defaultTTL = config.DefaultTTL
	}

	m.state.Store(MemoryStateStopped)

	return m
}

func (m *MemoryStore) Start() error {
	if !m.state.CompareAndSwap(MemoryStateStopped, MemoryStateRunning) {
		return types.ErrServerAlreadyRunning
	}

	m.stopCleanup = make(chan struct{})
	m.cleanupDone = make(chan struct{})
	go m.cleanupRoutine()

	m.logger.Info("Memory store started")
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.state.CompareAndSwap(MemoryStateRunning, MemoryStateStopped) {
		return types.ErrServerNotRunning
	}

	close(m.stopCleanup)

	select {
	case <-m.cleanupDone:
	case <-time.After(5 * time.Second):
		m.logger.Warn("Memory store cleanup routine stop timeout")
	}

	m.logger.Info("Memory store stopped")
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.state.Load().(MemoryState) == MemoryStateRunning
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	atomic.AddUint64(&m.commands, 1)

	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&m.hits, 1)

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	atomic.AddUint64(&m.commands, 1)

	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = entry
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	atomic.AddUint64(&m.commands, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.data, key)
		delete(m.sets, key)
	}

	return nil
}

func (m *MemoryStore) Scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return types.Errorf(types.ErrInvalidParameter, "pattern %q: %v", pattern, err)
	}
	atomic.AddUint64(&m.commands, 1)

	now := time.Now()

	m.mu.RLock()
	matched := make([]string, 0)
	for key, entry := range m.data {
		if entry.expired(now) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	for key := range m.sets {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	m.mu.RUnlock()

	sort.Strings(matched)

	for start := 0; start < len(matched); start += defaultScanCount {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + defaultScanCount
		if end > len(matched) {
			end = len(matched)
		}

		if err := fn(matched[start:end]); err != nil {
			return err
		}
	}

	return nil
}

func (m *MemoryStore) Info(_ context.Context) (types.StoreInfo, error) {
	m.mu.RLock()
	var used int
	for key, entry := range m.data {
		used += len(key) + len(entry.value)
	}
	m.mu.RUnlock()

	hits := int64(atomic.LoadUint64(&m.hits))
	misses := int64(atomic.LoadUint64(&m.misses))

	return types.StoreInfo{
		UsedMemory:             fmt.Sprintf("%dB", used),
		UsedMemoryPeak:         "N/A",
		TotalCommandsProcessed: int64(atomic.LoadUint64(&m.commands)),
		KeyspaceHits:           hits,
		KeyspaceMisses:         misses,
		HitRate:                keyspaceHitRate(hits, misses),
		ConnectedClients:       1,
	}, nil
}

func (m *MemoryStore) Increment(_ context.Context, deltas map[string]int64) error {
	atomic.AddUint64(&m.commands, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	updated := make(map[string]memoryEntry, len(deltas))
	for key, delta := range deltas {
		current, err := m.counterUnsafe(key)
		if err != nil {
			return err
		}
		updated[key] = memoryEntry{value: []byte(strconv.FormatInt(current+delta, 10))}
	}

	for key, entry := range updated {
		m.data[key] = entry
	}

	return nil
}

func (m *MemoryStore) Counters(_ context.Context, keys ...string) ([]int64, error) {
	atomic.AddUint64(&m.commands, 1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]int64, len(keys))
	for i, key := range keys {
		value, err := m.counterUnsafe(key)
		if err != nil {
			return nil, err
		}
		out[i] = value
	}

	return out, nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	atomic.AddUint64(&m.commands, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]float64)
		m.sets[key] = set
	}
	set[member] = score

	return nil
}

func (m *MemoryStore) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	atomic.AddUint64(&m.commands, 1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		member string
		score  float64
	}

	var found []scored
	for member, score := range m.sets[key] {
		if score >= min && score <= max {
			found = append(found, scored{member: member, score: score})
		}
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].score == found[j].score {
			return found[i].member < found[j].member
		}
		return found[i].score < found[j].score
	})

	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.member
	}

	return out, nil
}

func (m *MemoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	atomic.AddUint64(&m.commands, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	set := m.sets[key]
	for member, score := range set {
		if score >= min && score <= max {
			delete(set, member)
			removed++
		}
	}

	if set != nil && len(set) == 0 {
		delete(m.sets, key)
	}

	return removed, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (m *MemoryStore) counterUnsafe(key string) (int64, error) {
	entry, ok := m.data[key]
	if !ok || entry.expired(time.Now()) {
		return 0, nil
	}

	value, err := strconv.ParseInt(string(entry.value), 10, 64)
	if err != nil {
		return 0, types.Errorf(types.ErrInvalidParameter, "counter %s is not an integer", key)
	}

	return value, nil
}

func (m *MemoryStore) cleanup() {
	now := time.Now()
	removed := 0

	m.mu.Lock()
	for key, entry := range m.data {
		if entry.expired(now) {
			delete(m.data, key)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Debug("Memory store cleanup completed", zap.Int("expired_entries", removed))
	}
}

func (m *MemoryStore) cleanupRoutine() {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}
