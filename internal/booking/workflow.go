package booking

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/clock"
)

var (
	ErrInvalidTransition = errors.New("action not allowed in the current booking state")
	ErrIdentityRequired  = errors.New("a signed-in identity is required")
)

type Deps struct {
	Directory    Directory
	Availability AvailabilityQuerier
	Reserver     Reserver
	Identity     IdentityProvider
	Clock        clock.Clock
	Log          *zap.Logger
}

// Workflow sequences a single customer's booking. It is not safe for
// concurrent use; each customer owns one.
type Workflow struct {
	deps    Deps
	state   State
	draft   Draft
	slots   []appointment.Slot
	appt    *appointment.Appointment
	notice  Notice
	lastErr error

	// version is the stored session revision this workflow was loaded from.
	version     int64
	// autoResumed is set when Sessions.Open resumed a parked draft.
	autoResumed bool
}

func New(deps Deps) *Workflow {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Identity == nil {
		deps.Identity = Anonymous{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewRealClock()
	}
	return &Workflow{deps: deps, state: StateSelectingProvider}
}

func (w *Workflow) State() State                          { return w.state }
func (w *Workflow) Draft() Draft                          { return w.draft }
func (w *Workflow) Slots() []appointment.Slot             { return w.slots }
func (w *Workflow) Appointment() *appointment.Appointment { return w.appt }
func (w *Workflow) Notice() Notice                        { return w.notice }

// Err is the failure surfaced by the last transition, if any.
func (w *Workflow) Err() error { return w.lastErr }

// AutoResumed reports whether opening the session already resumed a draft
// parked on sign-in. The outcome of that resume is in State and Err.
func (w *Workflow) AutoResumed() bool { return w.autoResumed }

func (w *Workflow) allow(states ...State) error {
	for _, s := range states {
		if w.state == s {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidTransition, "state %s", w.state)
}

func (w *Workflow) fail(err error) error {
	w.lastErr = err
	return err
}

func (w *Workflow) clearSlot() {
	w.draft.SlotStart = ""
	w.draft.SlotEnd = ""
}

func (w *Workflow) resetTo(state State, notice Notice) {
	w.state = state
	w.notice = notice
	if state == StateSelectingProvider {
		details := w.draft.Details
		w.draft = Draft{Details: details}
		w.slots = nil
	}
}

func (w *Workflow) Providers(ctx context.Context) ([]appointment.Provider, error) {
	return w.deps.Directory.ListProviders(ctx)
}

// ChooseProvider selects a provider and lists its availability for the
// currently selected date, or today.
func (w *Workflow) ChooseProvider(ctx context.Context, providerID string) error {
	if err := w.allow(StateSelectingProvider, StateSelectingSlot, StateCollectingDetails); err != nil {
		return err
	}
	w.notice, w.lastErr = NoticeNone, nil

	if _, err := w.deps.Directory.GetProvider(ctx, providerID); err != nil {
		if errors.Is(err, appointment.ErrProviderNotFound) {
			w.resetTo(StateSelectingProvider, NoticeProviderGone)
		}
		return w.fail(err)
	}

	w.draft.ProviderID = providerID
	w.clearSlot()
	if w.draft.Date == "" {
		w.draft.Date = appointment.DateOf(w.deps.Clock.Now())
	}
	w.state = StateSelectingSlot
	return w.refresh(ctx)
}

// ChooseDate changes the date. Any chosen slot is dropped since a slot
// choice is scoped to its date.
func (w *Workflow) ChooseDate(ctx context.Context, date appointment.Date) error {
	if err := w.allow(StateSelectingSlot, StateCollectingDetails); err != nil {
		return err
	}
	w.notice, w.lastErr = NoticeNone, nil

	if !date.Valid() {
		return w.fail(appointment.NewValidationError("date", "must be YYYY-MM-DD"))
	}

	w.draft.Date = date
	w.clearSlot()
	w.state = StateSelectingSlot
	return w.refresh(ctx)
}

func (w *Workflow) refresh(ctx context.Context) error {
	slots, err := w.deps.Availability.FreeSlots(ctx, w.draft.ProviderID, w.draft.Date)
	if err != nil {
		w.slots = nil
		if errors.Is(err, appointment.ErrProviderNotFound) {
			w.resetTo(StateSelectingProvider, NoticeProviderGone)
		}
		return w.fail(err)
	}
	w.slots = slots
	return nil
}

// ChooseSlot picks one of the listed free slots by its start time.
func (w *Workflow) ChooseSlot(ctx context.Context, start string) error {
	if err := w.allow(StateSelectingSlot); err != nil {
		return err
	}
	w.notice, w.lastErr = NoticeNone, nil

	for _, s := range w.slots {
		if s.Start == start {
			w.draft.SlotStart = s.Start
			w.draft.SlotEnd = s.End
			w.state = StateCollectingDetails
			if id, ok := w.deps.Identity.Current(ctx); ok {
				w.prefill(id)
			}
			return nil
		}
	}
	return w.fail(appointment.NewValidationError("slot", "not offered for the selected date"))
}

// prefill copies identity contact data into empty fields only.
func (w *Workflow) prefill(id Identity) {
	c := &w.draft.Details.Contact
	if c.Name == "" {
		c.Name = id.Name
	}
	if c.Email == "" {
		c.Email = id.Email
	}
	if c.Phone == "" {
		c.Phone = id.Phone
	}
}

// UpdateDetails replaces the collected contact and subject fields.
func (w *Workflow) UpdateDetails(d appointment.Details) error {
	if err := w.allow(StateCollectingDetails); err != nil {
		return err
	}
	w.draft.Details = d
	return nil
}

// Submit validates the draft and reserves. Without an identity the
// workflow parks in StateAwaitingIdentity with the draft intact and
// returns nil.
func (w *Workflow) Submit(ctx context.Context) error {
	if err := w.allow(StateCollectingDetails); err != nil {
		return err
	}
	w.notice, w.lastErr = NoticeNone, nil

	if err := w.draft.Validate(); err != nil {
		return w.fail(err)
	}

	id, ok := w.deps.Identity.Current(ctx)
	if !ok {
		w.draft.AuthDeferred = true
		w.state = StateAwaitingIdentity
		w.notice = NoticeSignInToBook
		return nil
	}
	return w.reserve(ctx, id)
}

// Resume continues a deferred submission with the now available identity,
// reusing every field collected before the detour.
func (w *Workflow) Resume(ctx context.Context, id Identity) error {
	if err := w.allow(StateAwaitingIdentity); err != nil {
		return err
	}
	if id.ID == "" {
		return w.fail(ErrIdentityRequired)
	}
	w.notice, w.lastErr = NoticeNone, nil
	w.draft.AuthDeferred = false
	w.prefill(id)
	return w.reserve(ctx, id)
}

// AwaitIdentity blocks on the identity provider and resumes once the
// customer has signed in. If ctx ends first the draft stays parked.
func (w *Workflow) AwaitIdentity(ctx context.Context) error {
	if err := w.allow(StateAwaitingIdentity); err != nil {
		return err
	}
	id, err := w.deps.Identity.Authenticate(ctx)
	if err != nil {
		return errors.Wrap(err, "await identity")
	}
	return w.Resume(ctx, id)
}

func (w *Workflow) reserve(ctx context.Context, id Identity) error {
	key, _ := w.draft.SlotKey()
	w.state = StateReserving

	appt, err := w.deps.Reserver.Reserve(ctx, appointment.ReserveRequest{
		Key:         key,
		RequesterID: id.ID,
		Details:     w.draft.Details,
	})

	switch {
	case err == nil:
		w.appt = appt
		w.state = StateConfirmed
		w.draft = Draft{}
		w.slots = nil
		w.deps.Log.Info("booking confirmed",
			zap.String("appointment_id", appt.ID.String()),
			zap.String("slot", key.String()),
		)
		return nil

	case errors.Is(err, appointment.ErrSlotConflict), errors.Is(err, appointment.ErrSlotNotFound):
		notice := NoticeSlotTaken
		if errors.Is(err, appointment.ErrSlotNotFound) {
			notice = NoticeSlotGone
		}
		w.clearSlot()
		w.state = StateSelectingSlot
		if rerr := w.refresh(ctx); rerr != nil {
			w.deps.Log.Warn("re-query after lost slot failed", zap.Error(rerr))
		}
		if w.state == StateSelectingSlot {
			w.notice = notice
		}
		return w.fail(err)

	case errors.Is(err, appointment.ErrProviderNotFound):
		w.resetTo(StateSelectingProvider, NoticeProviderGone)
		return w.fail(err)

	default:
		w.state = StateCollectingDetails
		w.notice = NoticeBookingFailed
		w.deps.Log.Warn("reservation failed", zap.String("slot", key.String()), zap.Error(err))
		return w.fail(err)
	}
}

// StartOver discards the draft and returns to provider selection.
func (w *Workflow) StartOver() {
	w.state = StateSelectingProvider
	w.draft = Draft{}
	w.slots = nil
	w.appt = nil
	w.notice = NoticeNone
	w.lastErr = nil
}

// Snapshot is the serializable form of a workflow.
type Snapshot struct {
	State       State                    `json:"state"`
	Draft       Draft                    `json:"draft"`
	Slots       []appointment.Slot       `json:"slots,omitempty"`
	Appointment *appointment.Appointment `json:"appointment,omitempty"`
	Notice      Notice                   `json:"notice,omitempty"`
	Error       string                   `json:"error,omitempty"`

	// Version is the session revision the snapshot was read at. Stores
	// reject a save whose Version is no longer current.
	Version int64 `json:"version"`
}

func (w *Workflow) Snapshot() Snapshot {
	s := Snapshot{
		State:       w.state,
		Draft:       w.draft,
		Slots:       w.slots,
		Appointment: w.appt,
		Notice:      w.notice,
		Version:     w.version,
	}
	if w.lastErr != nil {
		s.Error = w.lastErr.Error()
	}
	return s
}

// Restore rebuilds a workflow from a snapshot with fresh collaborators.
func Restore(deps Deps, s Snapshot) *Workflow {
	w := New(deps)
	if s.State != "" {
		w.state = s.State
	}
	w.draft = s.Draft
	w.slots = s.Slots
	w.appt = s.Appointment
	w.notice = s.Notice
	w.version = s.Version
	if s.Error != "" {
		w.lastErr = errors.New(s.Error)
	}
	return w
}
