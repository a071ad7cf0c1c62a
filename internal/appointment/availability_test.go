package appointment_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
)

func starts(slots []appointment.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start)
	}
	return out
}

func TestAvailability_FreeSlots(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the generated slots ordered by start", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		a := appointment.NewAvailability(f.repo, nil, f.clock, f.log)

		slots, err := a.FreeSlots(ctx, "drsmith", monday)
		require.NoError(t, err)
		require.Len(t, slots, 16)
		assert.Equal(t, nineAM(), slots[0].Key())
		assert.IsIncreasing(t, starts(slots))
	})

	t.Run("closed day is empty, not an error", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		a := appointment.NewAvailability(f.repo, nil, f.clock, f.log)

		slots, err := a.FreeSlots(ctx, "drsmith", monday.AddDays(6))
		require.NoError(t, err)
		assert.NotNil(t, slots)
		assert.Empty(t, slots)
	})

	t.Run("excludes a reserved slot", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		a := appointment.NewAvailability(f.repo, nil, f.clock, f.log)
		c := appointment.NewCoordinator(f.repo, nil, f.clock, f.log)

		_, err := c.Reserve(ctx, appointment.ReserveRequest{Key: nineAM(), RequesterID: "jane", Details: janeDetails()})
		require.NoError(t, err)

		slots, err := a.FreeSlots(ctx, "drsmith", monday)
		require.NoError(t, err)
		assert.Len(t, slots, 15)
		assert.NotContains(t, starts(slots), "09:00")
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := newFixture(t)
		a := appointment.NewAvailability(f.repo, nil, f.clock, f.log)

		_, err := a.FreeSlots(ctx, "nobody", monday)
		assert.True(t, errors.Is(err, appointment.ErrProviderNotFound))
	})

	t.Run("past dates and started units are hidden", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		f.clock.Set(time.Date(2026, 10, 13, 10, 15, 0, 0, time.UTC))
		a := appointment.NewAvailability(f.repo, nil, f.clock, f.log)

		past, err := a.FreeSlots(ctx, "drsmith", monday)
		require.NoError(t, err)
		assert.Empty(t, past)

		today, err := a.FreeSlots(ctx, "drsmith", monday.AddDays(1))
		require.NoError(t, err)
		require.NotEmpty(t, today)
		assert.Equal(t, "10:30", today[0].Start)
	})

	t.Run("invalid date", func(t *testing.T) {
		f := newFixture(t)
		a := appointment.NewAvailability(f.repo, nil, f.clock, f.log)

		_, err := a.FreeSlots(ctx, "drsmith", "12/10/2026")
		assert.True(t, appointment.IsValidation(err))
	})

	t.Run("reservation invalidates the cache", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		cache := newRecordingCache()
		a := appointment.NewAvailability(f.repo, cache, f.clock, f.log)
		c := appointment.NewCoordinator(f.repo, cache, f.clock, f.log)

		first, err := a.FreeSlots(ctx, "drsmith", monday)
		require.NoError(t, err)
		require.Len(t, first, 16)
		_, cached := cache.Get(ctx, "drsmith", monday)
		require.True(t, cached)

		_, err = c.Reserve(ctx, appointment.ReserveRequest{Key: nineAM(), RequesterID: "jane", Details: janeDetails()})
		require.NoError(t, err)
		assert.Contains(t, cache.invalidations(), "drsmith/2026-10-12")

		after, err := a.FreeSlots(ctx, "drsmith", monday)
		require.NoError(t, err)
		assert.Len(t, after, 15)
	})

	t.Run("a listing read before a reservation is not cached after it", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		cache := newRecordingCache()
		repo := newPausingRepo(f.repo)
		a := appointment.NewAvailability(repo, cache, f.clock, f.log)
		c := appointment.NewCoordinator(f.repo, cache, f.clock, f.log)

		done := make(chan []appointment.Slot)
		go func() {
			slots, _ := a.FreeSlots(ctx, "drsmith", monday)
			done <- slots
		}()

		<-repo.listed
		_, err := c.Reserve(ctx, appointment.ReserveRequest{Key: nineAM(), RequesterID: "jane", Details: janeDetails()})
		require.NoError(t, err)
		close(repo.release)

		// the in-flight answer may be stale, the cache must not be
		assert.Len(t, <-done, 16)
		_, cached := cache.Get(ctx, "drsmith", monday)
		assert.False(t, cached)

		after, err := a.FreeSlots(ctx, "drsmith", monday)
		require.NoError(t, err)
		assert.Len(t, after, 15)
		assert.NotContains(t, starts(after), "09:00")
	})

	t.Run("a held lock awaiting reconciliation drops the cached listing", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		cache := newRecordingCache()
		repo := &flakyRepo{MemoryRepository: f.repo}
		repo.failAppointments.Store(100)
		a := appointment.NewAvailability(repo, cache, f.clock, f.log)
		c := appointment.NewCoordinator(repo, cache, f.clock, f.log,
			appointment.WithAppointmentWriteRetries(1, time.Millisecond))

		warm, err := a.FreeSlots(ctx, "drsmith", monday)
		require.NoError(t, err)
		require.Len(t, warm, 16)

		_, err = c.Reserve(ctx, appointment.ReserveRequest{Key: nineAM(), RequesterID: "jane", Details: janeDetails()})
		require.True(t, errors.Is(err, appointment.ErrReconcilePending))
		assert.Contains(t, cache.invalidations(), "drsmith/2026-10-12")

		after, err := a.FreeSlots(ctx, "drsmith", monday)
		require.NoError(t, err)
		assert.NotContains(t, starts(after), "09:00")
	})

	t.Run("a lost race drops the cached listing", func(t *testing.T) {
		f := newFixture(t)
		f.generate(t)
		cache := newRecordingCache()
		a := appointment.NewAvailability(f.repo, cache, f.clock, f.log)
		c := appointment.NewCoordinator(f.repo, cache, f.clock, f.log)

		_, err := c.Reserve(ctx, appointment.ReserveRequest{Key: nineAM(), RequesterID: "jane", Details: janeDetails()})
		require.NoError(t, err)

		// another instance cached a listing that still shows 09:00
		stale, err := f.repo.ListSlots(ctx, "drsmith", monday, appointment.SlotFree)
		require.NoError(t, err)
		stale = append([]appointment.Slot{{ProviderID: "drsmith", Date: monday, Start: "09:00", End: "09:30", State: appointment.SlotFree}}, stale...)
		cache.Set(ctx, "drsmith", monday, cache.Version(ctx, "drsmith", monday), stale)

		_, err = c.Reserve(ctx, appointment.ReserveRequest{Key: nineAM(), RequesterID: "bob", Details: janeDetails()})
		require.True(t, errors.Is(err, appointment.ErrSlotConflict))

		after, err := a.FreeSlots(ctx, "drsmith", monday)
		require.NoError(t, err)
		assert.Len(t, after, 15)
		assert.NotContains(t, starts(after), "09:00")
	})
}
