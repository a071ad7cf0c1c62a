package appointment_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/clock"
)

// 2026-10-12 is a Monday.
const monday appointment.Date = "2026-10-12"

var errStoreDown = errors.New("connection refused")

type fixture struct {
	repo  *appointment.MemoryRepository
	clock *clock.MockClock
	log   *zap.Logger
	vet   appointment.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:  appointment.NewMemoryRepository(),
		clock: clock.NewMockClock(time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)),
		log:   zap.NewNop(),
		vet: appointment.Provider{
			ID:             "drsmith",
			Name:           "Dr. Smith",
			Specialization: "Small animals",
			FeeCents:       4500,
			Weekly: appointment.Weekdays(
				time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
			),
		},
	}
	require.NoError(t, f.repo.UpsertProvider(context.Background(), f.vet))
	return f
}

func (f *fixture) generate(t *testing.T) appointment.GenerateResult {
	t.Helper()
	g := appointment.NewGenerator(f.repo, nil, f.clock, f.log)
	res, err := g.Generate(context.Background(), appointment.GenerateRequest{
		Provider: f.vet,
		Template: appointment.DefaultSlotTemplate(),
		From:     monday,
	})
	require.NoError(t, err)
	return res
}

func janeDetails() appointment.Details {
	return appointment.Details{
		Contact: appointment.Contact{Name: "Jane", Email: "jane@x.com", Phone: "555-0100"},
		Reason:  "annual checkup",
		Pet:     &appointment.PetProfile{Name: "Rex", Species: "dog", Breed: "beagle", AgeYears: 4},
	}
}

func nineAM() appointment.SlotKey {
	return appointment.SlotKey{ProviderID: "drsmith", Date: monday, Start: "09:00"}
}

// flakyRepo fails slot inserts or appointment inserts on demand.
type flakyRepo struct {
	*appointment.MemoryRepository
	failSlotEvery     int32
	slotCalls         atomic.Int32
	failAppointments  atomic.Int32
	appointmentWrites atomic.Int32
}

func (r *flakyRepo) InsertSlotIfAbsent(ctx context.Context, s appointment.Slot) (bool, error) {
	n := r.slotCalls.Add(1)
	if r.failSlotEvery > 0 && n%r.failSlotEvery == 0 {
		return false, errors.Mark(errStoreDown, appointment.ErrStoreUnavailable)
	}
	return r.MemoryRepository.InsertSlotIfAbsent(ctx, s)
}

func (r *flakyRepo) InsertAppointment(ctx context.Context, a appointment.Appointment) error {
	r.appointmentWrites.Add(1)
	if r.failAppointments.Load() > 0 {
		r.failAppointments.Add(-1)
		return errors.Mark(errStoreDown, appointment.ErrStoreUnavailable)
	}
	return r.MemoryRepository.InsertAppointment(ctx, a)
}

// atomicRepo stands in for a transactional backend.
type atomicRepo struct {
	*appointment.MemoryRepository
	calls atomic.Int32
}

func (r *atomicRepo) ReserveWithAppointment(ctx context.Context, key appointment.SlotKey, hold appointment.Hold) (*appointment.Appointment, error) {
	r.calls.Add(1)
	if _, err := r.ReserveSlot(ctx, key, hold); err != nil {
		return nil, err
	}
	if err := r.InsertAppointment(ctx, hold.Appointment); err != nil {
		return nil, err
	}
	a := hold.Appointment
	return &a, nil
}

// recordingCache is an in-memory AvailabilityCache that records invalidations.
type recordingCache struct {
	mu          sync.Mutex
	entries     map[string][]appointment.Slot
	versions    map[string]int
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{
		entries:  make(map[string][]appointment.Slot),
		versions: make(map[string]int),
	}
}

func cacheKey(providerID string, date appointment.Date) string {
	return providerID + "/" + date.String()
}

func (c *recordingCache) Get(_ context.Context, providerID string, date appointment.Date) ([]appointment.Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[cacheKey(providerID, date)]
	return s, ok
}

func (c *recordingCache) Version(_ context.Context, providerID string, date appointment.Date) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strconv.Itoa(c.versions[cacheKey(providerID, date)])
}

func (c *recordingCache) Set(_ context.Context, providerID string, date appointment.Date, version string, slots []appointment.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(providerID, date)
	if strconv.Itoa(c.versions[key]) != version {
		return
	}
	c.entries[key] = slots
}

func (c *recordingCache) Invalidate(_ context.Context, providerID string, date appointment.Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(providerID, date)
	c.versions[key]++
	delete(c.entries, key)
	c.invalidated = append(c.invalidated, key)
}

func (c *recordingCache) invalidations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invalidated...)
}

// pausingRepo blocks the first ListSlots after it has read from the store
// until release is closed.
type pausingRepo struct {
	*appointment.MemoryRepository
	once    sync.Once
	listed  chan struct{}
	release chan struct{}
}

func newPausingRepo(repo *appointment.MemoryRepository) *pausingRepo {
	return &pausingRepo{MemoryRepository: repo, listed: make(chan struct{}), release: make(chan struct{})}
}

func (r *pausingRepo) ListSlots(ctx context.Context, providerID string, date appointment.Date, state appointment.SlotState) ([]appointment.Slot, error) {
	slots, err := r.MemoryRepository.ListSlots(ctx, providerID, date, state)
	r.once.Do(func() {
		close(r.listed)
		<-r.release
	})
	return slots, err
}
