// Package cache stores recorded mission event sequences keyed by normalized
// mission text.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/dotagent/office/internal/event"
)

const (
	DefaultMaxEntries = 100
	DefaultTTL        = 24 * time.Hour
)

type Entry struct {
	Events   []event.Event
	StoredAt time.Time
	Hits     int
}

type Stats struct {
	Size         int           `json:"size"`
	ValidEntries int           `json:"validEntries"`
	TotalHits    int           `json:"totalHits"`
	MaxSize      int           `json:"maxSize"`
	TTL          time.Duration `json:"ttl"`
}

// Cache evicts strictly in insertion order once full. Hit counts are
// informational and never influence which entry goes first.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string // insertion order of live keys
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]*Entry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Key hashes the normalized mission text.
func Key(mission string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(mission)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the recorded events for mission, or false when absent or expired.
func (c *Cache) Get(mission string) ([]event.Event, bool) {
	key := Key(mission)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.StoredAt) > c.ttl {
		c.remove(key)
		return nil, false
	}
	e.Hits++

	out := make([]event.Event, len(e.Events))
	copy(out, e.Events)
	return out, true
}

// Set records events for mission, replacing any previous recording.
func (c *Cache) Set(mission string, events []event.Event) {
	key := Key(mission)
	stored := make([]event.Event, len(events))
	copy(stored, events)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = &Entry{Events: stored, StoredAt: c.now()}
		return
	}

	if len(c.entries) >= c.maxSize && len(c.order) > 0 {
		c.remove(c.order[0])
	}
	c.entries[key] = &Entry{Events: stored, StoredAt: c.now()}
	c.order = append(c.order, key)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.order = nil
}

// CleanExpired drops every expired entry and reports how many went.
func (c *Cache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []string
	for key, e := range c.entries {
		if now.Sub(e.StoredAt) > c.ttl {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.remove(key)
	}
	return len(expired)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		TTL:     c.ttl,
	}
	now := c.now()
	for _, e := range c.entries {
		if now.Sub(e.StoredAt) <= c.ttl {
			st.ValidEntries++
			st.TotalHits += e.Hits
		}
	}
	return st
}

func (c *Cache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
