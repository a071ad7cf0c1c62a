//go:build integration

package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/booking"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	addr, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	return addr
}

func TestRedis_CacheAndSessions(t *testing.T) {
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, startRedis(t), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	t.Run("availability cache", func(t *testing.T) {
		cache := NewAvailabilityCache(rdb, time.Minute, zap.NewNop())
		date := appointment.Date("2026-10-12")

		_, ok := cache.Get(ctx, "drsmith", date)
		assert.False(t, ok)

		slots := []appointment.Slot{{ProviderID: "drsmith", Date: date, Start: "09:00", End: "09:30", State: appointment.SlotFree}}
		cache.Set(ctx, "drsmith", date, cache.Version(ctx, "drsmith", date), slots)
		got, ok := cache.Get(ctx, "drsmith", date)
		require.True(t, ok)
		assert.Equal(t, "09:00", got[0].Start)

		cache.Invalidate(ctx, "drsmith", date)
		_, ok = cache.Get(ctx, "drsmith", date)
		assert.False(t, ok)
	})

	t.Run("availability cache drops writes from before an invalidation", func(t *testing.T) {
		cache := NewAvailabilityCache(rdb, time.Minute, zap.NewNop())
		date := appointment.Date("2026-10-13")
		slots := []appointment.Slot{{ProviderID: "drsmith", Date: date, Start: "09:00", End: "09:30", State: appointment.SlotFree}}

		before := cache.Version(ctx, "drsmith", date)
		cache.Invalidate(ctx, "drsmith", date)
		cache.Set(ctx, "drsmith", date, before, slots)
		_, ok := cache.Get(ctx, "drsmith", date)
		assert.False(t, ok)

		cache.Set(ctx, "drsmith", date, cache.Version(ctx, "drsmith", date), slots)
		_, ok = cache.Get(ctx, "drsmith", date)
		assert.True(t, ok)
	})

	t.Run("session store", func(t *testing.T) {
		store := NewSessionStore(rdb, time.Minute)
		snap := booking.Snapshot{
			State: booking.StateAwaitingIdentity,
			Draft: booking.Draft{ProviderID: "drsmith", Date: "2026-10-12", SlotStart: "09:00", AuthDeferred: true},
		}
		require.NoError(t, store.Save(ctx, "s1", snap))

		got, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, snap.Draft, got.Draft)
		assert.Equal(t, int64(1), got.Version)

		// a second writer still holding revision 0 loses
		assert.ErrorIs(t, store.Save(ctx, "s1", snap), booking.ErrSessionConflict)

		got.State = booking.StateConfirmed
		require.NoError(t, store.Save(ctx, "s1", got))
		assert.ErrorIs(t, store.Save(ctx, "s1", got), booking.ErrSessionConflict)

		latest, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, booking.StateConfirmed, latest.State)
		assert.Equal(t, int64(2), latest.Version)

		require.NoError(t, store.Delete(ctx, "s1"))
		_, err = store.Load(ctx, "s1")
		assert.ErrorIs(t, err, booking.ErrSessionNotFound)
	})
}
