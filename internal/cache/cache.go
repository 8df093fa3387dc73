package cache

import (
	"fmt"
	"sync"
	"time"

	"riverflow/internal/hydro"
)

// Class buckets query shapes into TTL policies. Current-window data keeps
// moving, so it expires on a minutes scale; a fixed past year never changes,
// so it can live far longer.
type Class string

const (
	ClassCurrentWindow  Class = "current_window"
	ClassLongWindow     Class = "long_window"
	ClassHistoricalYear Class = "historical_year"
)

// currentWindowMaxDays separates CurrentWindow from LongWindow queries.
const currentWindowMaxDays = 30

// Key identifies one memoized timeline.
type Key struct {
	StationID string
	Class     Class
	Year      int
}

// KeyFor classifies a query shape into a cache key.
func KeyFor(stationID string, days int, year *int) Key {
	if year != nil {
		return Key{StationID: stationID, Class: ClassHistoricalYear, Year: *year}
	}
	if days > currentWindowMaxDays {
		return Key{StationID: stationID, Class: ClassLongWindow}
	}
	return Key{StationID: stationID, Class: ClassCurrentWindow}
}

// String renders a stable form usable as a singleflight key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.StationID, k.Class, k.Year)
}

// TTLs holds per-class freshness windows.
type TTLs struct {
	CurrentWindow  time.Duration
	LongWindow     time.Duration
	HistoricalYear time.Duration
}

// DefaultTTLs mirror the freshness the displays tolerate.
var DefaultTTLs = TTLs{
	CurrentWindow:  5 * time.Minute,
	LongWindow:     30 * time.Minute,
	HistoricalYear: 30 * time.Minute,
}

// For returns the TTL for a class.
func (t TTLs) For(class Class) time.Duration {
	switch class {
	case ClassHistoricalYear:
		return t.HistoricalYear
	case ClassLongWindow:
		return t.LongWindow
	default:
		return t.CurrentWindow
	}
}

type entry struct {
	timeline  hydro.Timeline
	createdAt time.Time
}

// Cache memoizes merged timelines per (station, class, year). Reads and
// writes are synchronous and never suspend; it is the single shared mutable
// resource of the engine.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]entry
	ttls    TTLs
	now     func() time.Time
}

// New builds a cache with the given TTL table.
func New(ttls TTLs) *Cache {
	return NewWithClock(ttls, time.Now)
}

// NewWithClock injects the clock, used by tests to pin TTL boundaries.
func NewWithClock(ttls TTLs, now func() time.Time) *Cache {
	return &Cache{
		entries: make(map[Key]entry),
		ttls:    ttls,
		now:     now,
	}
}

// Get returns the cached timeline when the entry is still fresh. An expired
// entry is a miss, not an error.
func (c *Cache) Get(key Key) (hydro.Timeline, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return hydro.Timeline{}, false
	}
	if c.now().Sub(e.createdAt) >= c.ttls.For(key.Class) {
		return hydro.Timeline{}, false
	}
	return e.timeline, true
}

// GetStale returns the entry regardless of freshness, with its age. Used to
// serve last-known data while the source is unavailable.
func (c *Cache) GetStale(key Key) (hydro.Timeline, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return hydro.Timeline{}, 0, false
	}
	return e.timeline, c.now().Sub(e.createdAt), true
}

// Put stores a timeline, unconditionally replacing any prior entry for the
// key. Last completed write wins.
func (c *Cache) Put(key Key, timeline hydro.Timeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{timeline: timeline, createdAt: c.now()}
}

// Invalidate drops every entry for a station across all classes and years,
// returning the number removed.
func (c *Cache) Invalidate(stationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key := range c.entries {
		if key.StationID == stationID {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of live entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
