package appointment

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/clock"
)

type ReserveRequest struct {
	Key         SlotKey
	RequesterID string
	Details     Details
}

// Validate applies the contact rules checked before any store access.
func (r ReserveRequest) Validate() error {
	verr := &ValidationError{}
	if r.Key.ProviderID == "" {
		verr.Add("provider_id", "required")
	}
	if !r.Key.Date.Valid() {
		verr.Add("date", "must be YYYY-MM-DD")
	}
	if r.Key.Start == "" {
		verr.Add("start", "required")
	}
	if strings.TrimSpace(r.RequesterID) == "" {
		verr.Add("requester_id", "required")
	}
	ValidateContact(r.Details.Contact, verr)
	if verr.Empty() {
		return nil
	}
	return verr
}

// ValidateContact adds an entry to verr for every empty contact field.
func ValidateContact(c Contact, verr *ValidationError) {
	if strings.TrimSpace(c.Name) == "" {
		verr.Add("contact.name", "required")
	}
	if strings.TrimSpace(c.Email) == "" {
		verr.Add("contact.email", "required")
	}
	if strings.TrimSpace(c.Phone) == "" {
		verr.Add("contact.phone", "required")
	}
}

type CoordinatorOption func(*Coordinator)

// WithAppointmentWriteRetries bounds how often the appointment insert is
// retried after the slot lock succeeded.
func WithAppointmentWriteRetries(n int, delay time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.writeRetries = n
		c.retryDelay = delay
	}
}

// Coordinator is the only component that flips a slot from free to reserved.
type Coordinator struct {
	repo         Repository
	cache        AvailabilityCache
	clock        clock.Clock
	log          *zap.Logger
	events       eventRecorder
	writeRetries int
	retryDelay   time.Duration
}

func NewCoordinator(repo Repository, cache AvailabilityCache, clk clock.Clock, log *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	if cache == nil {
		cache = NopCache()
	}
	c := &Coordinator{
		repo:         repo,
		cache:        cache,
		clock:        clk,
		log:          log,
		events:       eventRecorder{repo: repo, log: log, now: clk.Now},
		writeRetries: 3,
		retryDelay:   50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reserve converts a free slot into a pending appointment. The first writer
// to flip the slot wins; everyone else gets ErrSlotConflict, including a
// replay by the same requester. The coordinator never retries a conflict.
func (c *Coordinator) Reserve(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	slot, err := c.repo.GetSlot(ctx, req.Key)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			c.cache.Invalidate(ctx, req.Key.ProviderID, req.Key.Date)
			return nil, err
		}
		return nil, errors.Wrap(err, "load slot")
	}
	if slot.State != SlotFree {
		c.cache.Invalidate(ctx, req.Key.ProviderID, req.Key.Date)
		return nil, ErrSlotConflict
	}

	now := c.clock.Now()
	appt := Appointment{
		ID:          uuid.New(),
		ProviderID:  slot.ProviderID,
		Date:        slot.Date,
		Start:       slot.Start,
		End:         slot.End,
		RequesterID: req.RequesterID,
		Contact:     req.Details.Contact,
		Reason:      req.Details.Reason,
		Notes:       req.Details.Notes,
		Pet:         req.Details.Pet,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	hold := Hold{RequesterID: req.RequesterID, Appointment: appt, HeldAt: now}

	var created *Appointment
	if atomic, ok := c.repo.(AtomicReserver); ok {
		created, err = atomic.ReserveWithAppointment(ctx, req.Key, hold)
		if err != nil {
			err = c.classify(err)
		}
	} else {
		created, err = c.reserveLockFirst(ctx, req.Key, hold)
	}

	// The slot is taken on success, on a lost race and on a held lock
	// awaiting reconciliation. A cached listing is stale in every case.
	if err == nil || slotTaken(err) {
		c.cache.Invalidate(ctx, req.Key.ProviderID, req.Key.Date)
	}
	if err != nil {
		return nil, err
	}

	c.events.record(ctx, EventSlotReserved, req.Key, &created.ID, map[string]any{
		"requester_id": req.RequesterID,
	})
	c.events.record(ctx, EventAppointmentCreated, req.Key, &created.ID, map[string]any{
		"status": created.Status,
	})

	c.log.Info("slot reserved",
		zap.String("slot", req.Key.String()),
		zap.String("appointment_id", created.ID.String()),
		zap.String("requester_id", req.RequesterID),
	)
	return created, nil
}

// reserveLockFirst takes the slot lock with a conditional write and then
// writes the appointment. Once the lock is held it is never released; only
// the appointment insert is retried.
func (c *Coordinator) reserveLockFirst(ctx context.Context, key SlotKey, hold Hold) (*Appointment, error) {
	if _, err := c.repo.ReserveSlot(ctx, key, hold); err != nil {
		return nil, c.classify(err)
	}

	appt := hold.Appointment
	if err := c.writeAppointment(ctx, appt); err != nil {
		c.log.Error("appointment write failed after slot lock",
			zap.String("slot", key.String()),
			zap.String("appointment_id", appt.ID.String()),
			zap.Error(err),
		)
		return nil, errors.Mark(
			errors.Mark(errors.Wrap(err, "write appointment"), ErrStoreUnavailable),
			ErrReconcilePending,
		)
	}
	return &appt, nil
}

func (c *Coordinator) writeAppointment(ctx context.Context, appt Appointment) error {
	var err error
	for attempt := 0; attempt <= c.writeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry appointment write")
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		if err = c.repo.InsertAppointment(ctx, appt); err == nil {
			return nil
		}
	}
	return err
}

func slotTaken(err error) bool {
	return errors.Is(err, ErrSlotConflict) || errors.Is(err, ErrSlotNotFound) || errors.Is(err, ErrReconcilePending)
}

func (c *Coordinator) classify(err error) error {
	switch {
	case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrSlotNotFound):
		return err
	default:
		return errors.Wrap(err, "reserve slot")
	}
}

// ReconcileOrphans writes the appointment held by every reserved slot that
// lacks one. It replays only the appointment half of a reservation.
func (c *Coordinator) ReconcileOrphans(ctx context.Context, limit int) (int, error) {
	orphans, err := c.repo.ListOrphanedHolds(ctx, limit)
	if err != nil {
		return 0, errors.Wrap(err, "list orphaned holds")
	}

	fixed := 0
	var firstErr error
	for _, s := range orphans {
		appt := s.Hold.Appointment
		if err := c.repo.InsertAppointment(ctx, appt); err != nil {
			c.log.Warn("reconcile appointment failed",
				zap.String("slot", s.Key().String()),
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fixed++
		c.events.record(ctx, EventAppointmentReconciled, s.Key(), &appt.ID, map[string]any{
			"held_at": s.Hold.HeldAt,
		})
	}

	if fixed > 0 {
		c.log.Info("reconciled orphaned holds", zap.Int("fixed", fixed), zap.Int("found", len(orphans)))
	}
	if firstErr != nil {
		return fixed, errors.Wrap(firstErr, "reconcile orphaned holds")
	}
	return fixed, nil
}

// GetAppointment is a read-through for downstream consumers.
func (c *Coordinator) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := c.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get appointment")
	}
	return appt, nil
}
