package notify_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/clock"
	"taskpulse/internal/model"
	"taskpulse/internal/notify"
)

func TestMemoryCooldown(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	c := notify.NewMemoryCooldown(clk)
	ctx := context.Background()

	ok, err := c.Allow(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = c.Allow(ctx, "k", time.Hour)
	assert.False(t, ok)

	ok, _ = c.Allow(ctx, "other", time.Hour)
	assert.True(t, ok)

	clk.Advance(time.Hour)
	ok, _ = c.Allow(ctx, "k", time.Hour)
	assert.True(t, ok, "key is released once the ttl elapses")
}

func TestCooldownKey(t *testing.T) {
	a := model.Alert{UserID: 1, TaskID: 2, RuleID: "chronic-skip"}
	assert.Equal(t, "1:2:chronic-skip", notify.CooldownKey(a))
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := notify.Connect(ctx, addr)
	require.NoError(t, err)
	pub := notify.NewRedisPublisher(rdb, "taskpulse-test-"+time.Now().Format("150405.000000"), nil)
	t.Cleanup(func() { _ = pub.Close() })

	got := make(chan model.Alert, 1)
	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = pub.Subscribe(subCtx, func(a model.Alert) { got <- a })
	}()

	want := model.Alert{ID: "a1", TaskID: 3, UserID: 4, Severity: model.SeverityWarning, RuleID: "chronic-skip"}
	require.Eventually(t, func() bool {
		_ = pub.Publish(ctx, want)
		select {
		case a := <-got:
			return assert.Equal(t, want.ID, a.ID)
		default:
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)

	cd := notify.NewRedisCooldown(rdb, "taskpulse-test:")
	key := time.Now().Format(time.RFC3339Nano)
	ok, err := cd.Allow(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = cd.Allow(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
