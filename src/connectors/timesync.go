package connectors

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

// TimeSync caches the server-minus-local clock offset per venue so every
// signed request does not cost a round trip to the time endpoint. The offset
// is refreshed after its TTL expires or when a request bounces with a
// timestamp error.
type TimeSync struct {
	mu        sync.Mutex
	ttl       time.Duration
	offsetMs  int64
	fetchedAt time.Time
	valid     bool
	now       func() time.Time
}

func NewTimeSync(ttl time.Duration) *TimeSync {
	return &TimeSync{ttl: ttl, now: time.Now}
}

// Timestamp returns the drift-corrected unix-millisecond timestamp to sign
// with, refreshing the cached offset via fetch when needed. A failed refresh
// falls back to the uncorrected local clock.
func (t *TimeSync) Timestamp(ctx context.Context, fetch func(ctx context.Context) (int64, error)) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid || t.now().Sub(t.fetchedAt) > t.ttl {
		serverMs, err := fetch(ctx)
		if err != nil {
			logger.WithError(err).Warn("server time fetch failed, using local clock")
			return t.now().UnixMilli()
		}
		t.offsetMs = serverMs - t.now().UnixMilli()
		t.fetchedAt = t.now()
		t.valid = true
	}
	return t.now().UnixMilli() + t.offsetMs
}

// Invalidate drops the cached offset so the next Timestamp call re-syncs.
// Called when the venue rejects a request for clock drift.
func (t *TimeSync) Invalidate() {
	t.mu.Lock()
	t.valid = false
	t.mu.Unlock()
}

var (
	timeSyncMu  sync.Mutex
	timeSyncMap = make(map[string]*TimeSync)
)

// sharedTimeSync returns the process-wide offset cache for a venue host, so
// every connector for the same host shares one sync state.
func sharedTimeSync(host string) *TimeSync {
	timeSyncMu.Lock()
	defer timeSyncMu.Unlock()
	ts, ok := timeSyncMap[host]
	if !ok {
		ts = NewTimeSync(GetConfig().TimeOffsetTTL)
		timeSyncMap[host] = ts
	}
	return ts
}
