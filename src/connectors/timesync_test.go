package connectors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimestampAppliesServerOffset(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	sync := NewTimeSync(time.Minute)
	sync.now = func() time.Time { return base }

	fetches := 0
	fetch := func(ctx context.Context) (int64, error) {
		fetches++
		return base.UnixMilli() + 1500, nil
	}

	ts := sync.Timestamp(context.Background(), fetch)
	if ts != base.UnixMilli()+1500 {
		t.Fatalf("expected offset-corrected timestamp, got %d", ts)
	}
	// within TTL the cached offset is reused
	sync.Timestamp(context.Background(), fetch)
	if fetches != 1 {
		t.Fatalf("expected a single server time fetch, got %d", fetches)
	}
}

func TestTimestampRefreshesAfterTTL(t *testing.T) {
	clock := time.UnixMilli(1_700_000_000_000)
	sync := NewTimeSync(time.Minute)
	sync.now = func() time.Time { return clock }

	fetches := 0
	fetch := func(ctx context.Context) (int64, error) {
		fetches++
		return clock.UnixMilli(), nil
	}

	sync.Timestamp(context.Background(), fetch)
	clock = clock.Add(2 * time.Minute)
	sync.Timestamp(context.Background(), fetch)
	if fetches != 2 {
		t.Fatalf("expected refresh after TTL, got %d fetches", fetches)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	sync := NewTimeSync(time.Hour)
	fetches := 0
	fetch := func(ctx context.Context) (int64, error) {
		fetches++
		return time.Now().UnixMilli(), nil
	}

	sync.Timestamp(context.Background(), fetch)
	sync.Invalidate()
	sync.Timestamp(context.Background(), fetch)
	if fetches != 2 {
		t.Fatalf("expected refetch after invalidation, got %d fetches", fetches)
	}
}

func TestTimestampFallsBackToLocalClockOnFetchError(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	sync := NewTimeSync(time.Minute)
	sync.now = func() time.Time { return base }

	ts := sync.Timestamp(context.Background(), func(ctx context.Context) (int64, error) {
		return 0, errors.New("network down")
	})
	if ts != base.UnixMilli() {
		t.Fatalf("expected local clock fallback, got %d", ts)
	}
}
