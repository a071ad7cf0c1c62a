package appointment

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the document store contract the scheduling core depends on.
// Every backend must make ReserveSlot a single conditional write.
type Repository interface {
	GetProvider(ctx context.Context, id string) (*Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)

	// InsertSlotIfAbsent reports whether the slot was created. An existing
	// slot with the same key is left untouched.
	InsertSlotIfAbsent(ctx context.Context, slot Slot) (bool, error)
	GetSlot(ctx context.Context, key SlotKey) (*Slot, error)
	// ListSlots returns slots of one provider and date in the given state,
	// ordered by start.
	ListSlots(ctx context.Context, providerID string, date Date, state SlotState) ([]Slot, error)

	// ReserveSlot flips a free slot to reserved. It fails with ErrSlotConflict
	// when the slot is no longer free.
	ReserveSlot(ctx context.Context, key SlotKey, hold Hold) (*Slot, error)
	// InsertAppointment is idempotent on the appointment ID.
	InsertAppointment(ctx context.Context, appt Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListOrphanedHolds returns reserved slots whose held appointment was never written.
	ListOrphanedHolds(ctx context.Context, limit int) ([]Slot, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// AtomicReserver is implemented by backends with multi-document transactions.
// The slot flip and the appointment insert then commit together.
type AtomicReserver interface {
	ReserveWithAppointment(ctx context.Context, key SlotKey, hold Hold) (*Appointment, error)
}

// ProviderWriter is used by onboarding and seeding, never by the booking path.
type ProviderWriter interface {
	UpsertProvider(ctx context.Context, p Provider) error
}

// AvailabilityCache fronts free-slot queries. Implementations may be stale;
// the coordinator remains the source of truth.
//
// Version returns a token for the current generation of an entry. Set stores
// slots only if no Invalidate ran since that token was taken, so a read that
// raced a reservation cannot repopulate the entry with the taken slot.
type AvailabilityCache interface {
	Get(ctx context.Context, providerID string, date Date) ([]Slot, bool)
	Version(ctx context.Context, providerID string, date Date) string
	Set(ctx context.Context, providerID string, date Date, version string, slots []Slot)
	Invalidate(ctx context.Context, providerID string, date Date)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string, Date) ([]Slot, bool)  { return nil, false }
func (nopCache) Version(context.Context, string, Date) string      { return "" }
func (nopCache) Set(context.Context, string, Date, string, []Slot) {}
func (nopCache) Invalidate(context.Context, string, Date)          {}

// NopCache disables availability caching.
func NopCache() AvailabilityCache { return nopCache{} }
