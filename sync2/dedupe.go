package sync2

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// EventDeduper remembers recently seen event IDs so duplicate or replayed sync
// responses don't bump a room's activity twice. Matches the server-side retry window:
// anything older than 5 minutes is assumed to be genuinely new data.
type EventDeduper struct {
	cache *ttlcache.Cache[string, struct{}]
}

func NewEventDeduper() *EventDeduper {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](5*time.Minute),
		// we don't care how many times an event is replayed, 5min is the limit
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()
	return &EventDeduper{cache: cache}
}

// Seen marks the event ID and reports whether it was already marked.
func (d *EventDeduper) Seen(eventID string) bool {
	if eventID == "" {
		return false
	}
	if d.cache.Has(eventID) {
		return true
	}
	d.cache.Set(eventID, struct{}{}, ttlcache.DefaultTTL)
	return false
}

func (d *EventDeduper) Stop() {
	d.cache.Stop()
}
