// Package broker fans cache changes out to display consumers so each screen
// does not re-fetch independently.
package broker

import (
	"sync"
	"time"

	"riverflow/internal/hydro"
)

// Update is one change event for a station. Err carries a per-station error
// state; a failing station never blocks updates for the others.
type Update struct {
	StationID string
	Timeline  hydro.Timeline
	Stale     bool
	Err       error
	At        time.Time
}

// Subscription is one consumer's view of a station. Cancel it on teardown;
// after Cancel returns, no further update is delivered and C is closed.
type Subscription struct {
	C      <-chan Update
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Broker is a per-station publish/subscribe channel. A subscriber arriving
// after data already exists receives the current snapshot immediately, then
// subsequent updates in order.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Update
	latest map[string]Update
}

// New constructs an empty broker.
func New() *Broker {
	return &Broker{
		subs:   make(map[string]map[int]chan Update),
		latest: make(map[string]Update),
	}
}

// Subscribe registers a consumer for one station. buffer bounds how many
// undelivered updates are held; a consumer that falls further behind loses
// the oldest pending update rather than blocking publishers.
func (b *Broker) Subscribe(stationID string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[stationID] == nil {
		b.subs[stationID] = make(map[int]chan Update)
	}
	b.subs[stationID][id] = ch
	if current, ok := b.latest[stationID]; ok {
		ch <- current
	}
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if chans, ok := b.subs[stationID]; ok {
				if _, ok := chans[id]; ok {
					delete(chans, id)
					close(ch)
				}
				if len(chans) == 0 {
					delete(b.subs, stationID)
				}
			}
		},
	}
}

// Publish records the update as the station's current value and delivers it
// to every live subscriber.
func (b *Broker) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest[u.StationID] = u
	for _, ch := range b.subs[u.StationID] {
		for {
			select {
			case ch <- u:
			default:
				// Full buffer: evict the oldest pending update and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribers reports how many consumers watch a station.
func (b *Broker) Subscribers(stationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[stationID])
}
