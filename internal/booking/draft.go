package booking

import (
	"context"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
)

type State string

const (
	StateSelectingProvider State = "selecting_provider"
	StateSelectingSlot     State = "selecting_slot"
	StateCollectingDetails State = "collecting_details"
	StateAwaitingIdentity  State = "awaiting_identity"
	StateReserving         State = "reserving"
	StateConfirmed         State = "confirmed"
)

// Notice is a user-facing signal attached to the last transition.
type Notice string

const (
	NoticeNone          Notice = ""
	NoticeSlotTaken     Notice = "this time was just taken"
	NoticeSlotGone      Notice = "please choose another time"
	NoticeProviderGone  Notice = "this provider is no longer available"
	NoticeSignInToBook  Notice = "sign in to finish your booking"
	NoticeBookingFailed Notice = "booking failed, please try again"
)

// Draft is the unpersisted booking form. Nothing in it reaches the store
// until Submit succeeds.
type Draft struct {
	ProviderID string              `json:"provider_id,omitempty"`
	Date       appointment.Date    `json:"date,omitempty"`
	SlotStart  string              `json:"slot_start,omitempty"`
	SlotEnd    string              `json:"slot_end,omitempty"`
	Details    appointment.Details `json:"details"`
	// AuthDeferred is set while the draft waits for the customer to sign in.
	AuthDeferred bool `json:"auth_deferred,omitempty"`
}

func (d Draft) SlotKey() (appointment.SlotKey, bool) {
	if d.ProviderID == "" || d.Date == "" || d.SlotStart == "" {
		return appointment.SlotKey{}, false
	}
	return appointment.SlotKey{ProviderID: d.ProviderID, Date: d.Date, Start: d.SlotStart}, true
}

// Validate enforces the rules checked before the reserving transition.
func (d Draft) Validate() error {
	verr := &appointment.ValidationError{}
	if d.ProviderID == "" {
		verr.Add("provider_id", "choose a provider")
	}
	if d.SlotStart == "" {
		verr.Add("slot", "choose a time")
	}
	appointment.ValidateContact(d.Details.Contact, verr)
	if verr.Empty() {
		return nil
	}
	return verr
}

// Identity is the signed-in customer as reported by the host application.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// IdentityProvider is the opaque authentication collaborator.
type IdentityProvider interface {
	// Current returns the signed-in identity, if any.
	Current(ctx context.Context) (Identity, bool)
	// Authenticate blocks until the customer has signed in or ctx is done.
	Authenticate(ctx context.Context) (Identity, error)
}

type Directory interface {
	ListProviders(ctx context.Context) ([]appointment.Provider, error)
	GetProvider(ctx context.Context, id string) (*appointment.Provider, error)
}

type AvailabilityQuerier interface {
	FreeSlots(ctx context.Context, providerID string, date appointment.Date) ([]appointment.Slot, error)
}

type Reserver interface {
	Reserve(ctx context.Context, req appointment.ReserveRequest) (*appointment.Appointment, error)
}

// Anonymous never has an identity and fails Authenticate immediately.
type Anonymous struct{}

func (Anonymous) Current(context.Context) (Identity, bool) { return Identity{}, false }

func (Anonymous) Authenticate(ctx context.Context) (Identity, error) {
	return Identity{}, ErrIdentityRequired
}
