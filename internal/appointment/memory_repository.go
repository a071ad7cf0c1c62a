package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process. Each method holds one mutex
// for its whole body, so ReserveSlot is a true conditional write. It does not
// implement AtomicReserver: like a single-document store it exercises the
// lock-first reservation path.
type MemoryRepository struct {
	mu           sync.Mutex
	providers    map[string]Provider
	slots        map[SlotKey]Slot
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		providers:    make(map[string]Provider),
		slots:        make(map[SlotKey]Slot),
		appointments: make(map[uuid.UUID]Appointment),
		now:          time.Now,
	}
}

func (r *MemoryRepository) UpsertProvider(_ context.Context, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID] = p
	return nil
}

func (r *MemoryRepository) GetProvider(_ context.Context, id string) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) ListProviders(_ context.Context) ([]Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) InsertSlotIfAbsent(_ context.Context, slot Slot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := slot.Key()
	if _, ok := r.slots[key]; ok {
		return false, nil
	}
	r.slots[key] = slot
	return true, nil
}

func (r *MemoryRepository) GetSlot(_ context.Context, key SlotKey) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) ListSlots(_ context.Context, providerID string, date Date, state SlotState) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Slot{}
	for k, s := range r.slots {
		if k.ProviderID == providerID && k.Date == date && s.State == state {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (r *MemoryRepository) ReserveSlot(_ context.Context, key SlotKey, hold Hold) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.State != SlotFree {
		return nil, ErrSlotConflict
	}
	h := hold
	s.State = SlotReserved
	s.ReservedBy = hold.RequesterID
	s.Hold = &h
	s.UpdatedAt = r.now()
	r.slots[key] = s
	return &s, nil
}

func (r *MemoryRepository) InsertAppointment(_ context.Context, appt Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[appt.ID]; ok {
		return nil
	}
	for _, a := range r.appointments {
		if a.SlotKey() == appt.SlotKey() {
			return ErrSlotConflict
		}
	}
	r.appointments[appt.ID] = appt
	return nil
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

// AppointmentsForSlot is a test helper returning every appointment referencing key.
func (r *MemoryRepository) AppointmentsForSlot(key SlotKey) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.SlotKey() == key {
			out = append(out, a)
		}
	}
	return out
}

func (r *MemoryRepository) ListOrphanedHolds(_ context.Context, limit int) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Slot
	for _, s := range r.slots {
		if s.State != SlotReserved || s.Hold == nil {
			continue
		}
		if _, ok := r.appointments[s.Hold.Appointment.ID]; ok {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLog(nil), r.events...)
}
