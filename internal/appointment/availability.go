package appointment

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/clock"
)

// Availability answers which slots are free for a provider on a date.
// Results are best effort: a slot returned as free may already have been
// taken, and only the Coordinator decides contention.
type Availability struct {
	repo  Repository
	cache AvailabilityCache
	clock clock.Clock
	log   *zap.Logger
}

func NewAvailability(repo Repository, cache AvailabilityCache, clk clock.Clock, log *zap.Logger) *Availability {
	if cache == nil {
		cache = NopCache()
	}
	return &Availability{repo: repo, cache: cache, clock: clk, log: log}
}

// FreeSlots returns free slots sorted by start. Past dates, and units of
// today that have already started, are never returned. An empty result is
// not an error.
func (a *Availability) FreeSlots(ctx context.Context, providerID string, date Date) ([]Slot, error) {
	if !date.Valid() {
		return nil, NewValidationError("date", "must be YYYY-MM-DD")
	}

	now := a.clock.Now()
	today := DateOf(now)
	if date.Before(today) {
		return []Slot{}, nil
	}

	slots, ok := a.cache.Get(ctx, providerID, date)
	if !ok {
		if _, err := a.repo.GetProvider(ctx, providerID); err != nil {
			if errors.Is(err, ErrProviderNotFound) {
				return nil, err
			}
			return nil, errors.Wrap(err, "load provider")
		}

		// Taken before the read so an invalidation during it wins.
		version := a.cache.Version(ctx, providerID, date)

		var err error
		slots, err = a.repo.ListSlots(ctx, providerID, date, SlotFree)
		if err != nil {
			return nil, errors.Wrap(err, "list free slots")
		}
		a.cache.Set(ctx, providerID, date, version, slots)
	}

	out := make([]Slot, 0, len(slots))
	cutoff := ""
	if date == today {
		cutoff = ClockOf(now)
	}
	for _, s := range slots {
		if s.State != SlotFree {
			continue
		}
		if s.Start < cutoff {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	a.log.Debug("availability query",
		zap.String("provider_id", providerID),
		zap.String("date", date.String()),
		zap.Bool("cached", ok),
		zap.Int("free", len(out)),
	)
	return out, nil
}
