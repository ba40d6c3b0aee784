package relay

import (
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/jdginn/antidrift/tracker"
)

const DefaultLivenessTTL = 5 * time.Second

// ActiveTracker is a tracker that has sent at least one message within the liveness TTL.
type ActiveTracker struct {
	ID       string    `json:"id"`
	Channel  string    `json:"channel"`
	LastSeen time.Time `json:"last_seen"`
}

// liveness remembers when each key was last heard from. Expiry only hides a key from this view; filter state is
// never touched.
type liveness struct {
	cache *ttlcache.Cache[tracker.Key, time.Time]
}

func newLiveness(ttl time.Duration) *liveness {
	if ttl <= 0 {
		ttl = DefaultLivenessTTL
	}
	return &liveness{
		cache: ttlcache.New[tracker.Key, time.Time](
			ttlcache.WithTTL[tracker.Key, time.Time](ttl),
			ttlcache.WithDisableTouchOnHit[tracker.Key, time.Time](),
		),
	}
}

func (l *liveness) touch(key tracker.Key, at time.Time) {
	l.cache.Set(key, at, ttlcache.DefaultTTL)
}

func (l *liveness) active() []ActiveTracker {
	var out []ActiveTracker
	for key, item := range l.cache.Items() {
		if item.IsExpired() {
			continue
		}
		out = append(out, ActiveTracker{ID: key.ID, Channel: key.Channel.String(), LastSeen: item.Value()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}

func (l *liveness) start() { go l.cache.Start() }

func (l *liveness) stop() { l.cache.Stop() }
