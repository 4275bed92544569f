package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"unmgate.org/internal/obs"
)

const janitorInterval = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache with an optional entry cap. When the
// cap is reached the entry closest to expiry is evicted.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
	maxSize    int

	hits      uint64
	misses    uint64
	evictions uint64

	stop chan struct{}
	once sync.Once

	now func() time.Time
}

// NewMemory creates a memory cache and starts its expiry janitor.
func NewMemory(defaultTTL time.Duration, maxSize int) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	m := &Memory{
		entries:    make(map[string]memoryEntry),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	go m.janitor()
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.now().After(e.expiresAt) {
		if ok {
			delete(m.entries, key)
		}
		m.misses++
		obs.RecordCacheLookup("memory", false)
		return nil, false
	}
	m.hits++
	obs.RecordCacheLookup("memory", true)
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSize > 0 && len(m.entries) >= m.maxSize {
		if _, exists := m.entries[key]; !exists {
			m.evictSoonestLocked()
		}
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *Memory) Has(ctx context.Context, key string) bool {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	return ok && !m.now().After(e.expiresAt)
}

func (m *Memory) ClearPrefix(_ context.Context, prefix string) {
	m.mu.Lock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}

func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
}

func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Size:      len(m.entries),
		Evictions: m.evictions,
	}
}

// Close stops the janitor. Safe to call more than once.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

// evictSoonestLocked drops the entry with the earliest expiry.
func (m *Memory) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for k, e := range m.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim = k
			soonest = e.expiresAt
		}
	}
	if victim != "" {
		delete(m.entries, victim)
		m.evictions++
	}
}

func (m *Memory) janitor() {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			now := m.now()
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

var _ Cache = (*Memory)(nil)
