package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/d60-Lab/namesync/internal/service"
)

func setupStream(t *testing.T, handler Handler, maxAttempts int) (*StreamSubscriber, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sub := NewStreamSubscriber(rdb, handler, Options{
		Stream:      "user.changed",
		Group:       "namesync",
		Consumer:    "test",
		Block:       -1,
		MaxAttempts: maxAttempts,
	})
	require.NoError(t, sub.EnsureGroup(context.Background()))
	return sub, rdb
}

func snap(name string) *service.UserSnapshot { return &service.UserSnapshot{DisplayName: &name} }

func TestEnsureGroupIsIdempotent(t *testing.T) {
	sub, _ := setupStream(t, func(context.Context, UserChangedEvent) error { return nil }, 0)
	assert.NoError(t, sub.EnsureGroup(context.Background()))
}

func TestPollDeliversAndAcks(t *testing.T) {
	var (
		mu  sync.Mutex
		got []UserChangedEvent
	)
	sub, rdb := setupStream(t, func(_ context.Context, ev UserChangedEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return nil
	}, 0)
	ctx := context.Background()

	_, err := Publish(ctx, rdb, "user.changed", UserChangedEvent{UserID: "u1", Before: snap("Alice"), After: snap("Alicia")})
	require.NoError(t, err)

	n, err := sub.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "Alicia", *got[0].After.DisplayName)

	assert.Zero(t, pendingCount(t, rdb))

	n, err = sub.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPollRetriesFailedEvent(t *testing.T) {
	calls := 0
	sub, rdb := setupStream(t, func(context.Context, UserChangedEvent) error {
		calls++
		if calls == 1 {
			return errors.New("store unavailable")
		}
		return nil
	}, 5)
	ctx := context.Background()
	_, err := Publish(ctx, rdb, "user.changed", UserChangedEvent{UserID: "u1", After: snap("Alicia")})
	require.NoError(t, err)

	n, err := sub.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, pendingCount(t, rdb))

	n, err = sub.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, calls)
}

func TestPollDeadLettersAfterMaxAttempts(t *testing.T) {
	sub, rdb := setupStream(t, func(context.Context, UserChangedEvent) error {
		return errors.New("always fails")
	}, 2)
	ctx := context.Background()
	_, err := Publish(ctx, rdb, "user.changed", UserChangedEvent{UserID: "u1", After: snap("Alicia")})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := sub.Poll(ctx)
		require.NoError(t, err)
	}

	dead, err := rdb.XRange(ctx, sub.DeadStream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "always fails", dead[0].Values["error"])

	assert.Zero(t, pendingCount(t, rdb))
}

func TestPollDeadLettersMalformedPayload(t *testing.T) {
	sub, rdb := setupStream(t, func(context.Context, UserChangedEvent) error {
		t.Error("handler must not run")
		return nil
	}, 0)
	ctx := context.Background()
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: "user.changed", Values: map[string]interface{}{"payload": "{not json"}}).Err())

	n, err := sub.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	dead, err := rdb.XLen(ctx, sub.DeadStream()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}

func pendingCount(t *testing.T, rdb *redis.Client) int {
	t.Helper()
	res, err := rdb.XPendingExt(context.Background(), &redis.XPendingExtArgs{
		Stream: "user.changed",
		Group:  "namesync",
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	require.NoError(t, err)
	return len(res)
}

// latencyMeter 记录每次 Record 的 outcome 属性
type latencyMeter struct {
	noop.Meter
	hist *latencyHistogram
}

func (m latencyMeter) Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return m.hist, nil
}

type latencyHistogram struct {
	noop.Float64Histogram
	mu       sync.Mutex
	outcomes []string
}

func (h *latencyHistogram) Record(_ context.Context, _ float64, opts ...metric.RecordOption) {
	attrs := metric.NewRecordConfig(opts).Attributes()
	outcome, _ := attrs.Value("outcome")
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, outcome.AsString())
}

func TestPollRecordsHandlerLatency(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hist := &latencyHistogram{}
	sub := NewStreamSubscriber(rdb, func(_ context.Context, ev UserChangedEvent) error {
		if ev.UserID == "bad" {
			return errors.New("boom")
		}
		return nil
	}, Options{
		Stream:   "user.changed",
		Group:    "namesync",
		Consumer: "test",
		Block:    -1,
		Workers:  1,
		Meter:    latencyMeter{hist: hist},
	})
	ctx := context.Background()
	require.NoError(t, sub.EnsureGroup(ctx))

	for _, id := range []string{"u1", "bad"} {
		_, err := Publish(ctx, rdb, "user.changed", UserChangedEvent{UserID: id, After: snap("x")})
		require.NoError(t, err)
	}
	n, err := sub.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{"ok", "error"}, hist.outcomes)
}
