package api

import (
	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/booking"
)

type ProviderRequest struct {
	Name           string   `json:"name"`
	Specialization string   `json:"specialization"`
	FeeCents       int64    `json:"fee_cents"`
	Bio            string   `json:"bio"`
	Weekdays       []string `json:"weekdays"` // "monday".."sunday"
}

type GenerateSlotsRequest struct {
	From       string                   `json:"from,omitempty"`
	WindowDays int                      `json:"window_days,omitempty"`
	Template   appointment.SlotTemplate `json:"template,omitempty"`
}

// ReserveRequest names the slot either by SlotRef, as returned in an
// availability listing, or by provider, date and start.
type ReserveRequest struct {
	SlotRef    string              `json:"slot_ref,omitempty"`
	ProviderID string              `json:"provider_id,omitempty"`
	Date       string              `json:"date,omitempty"`
	Start      string              `json:"start,omitempty"`
	Details    appointment.Details `json:"details"`
}

func (r ReserveRequest) key() (appointment.SlotKey, error) {
	if r.SlotRef == "" {
		return appointment.SlotKey{ProviderID: r.ProviderID, Date: appointment.Date(r.Date), Start: r.Start}, nil
	}
	key, err := appointment.ParseSlotKey(r.SlotRef)
	if err != nil {
		return appointment.SlotKey{}, appointment.NewValidationError("slot_ref", err.Error())
	}
	return key, nil
}

// AvailableSlot is a free slot plus the reference that reserves it.
type AvailableSlot struct {
	appointment.Slot
	Ref string `json:"ref"`
}

type AvailabilityResponse struct {
	ProviderID string          `json:"provider_id"`
	Date       string          `json:"date"`
	Slots      []AvailableSlot `json:"slots"`
}

type ChooseProviderRequest struct {
	ProviderID string `json:"provider_id"`
}

type ChooseDateRequest struct {
	Date string `json:"date"`
}

type ChooseSlotRequest struct {
	Start string `json:"start"`
}

type BookingResponse struct {
	ID          string                   `json:"id"`
	State       booking.State            `json:"state"`
	Draft       booking.Draft            `json:"draft"`
	Slots       []appointment.Slot       `json:"slots,omitempty"`
	Appointment *appointment.Appointment `json:"appointment,omitempty"`
	Notice      booking.Notice           `json:"notice,omitempty"`
	Error       *ErrorResponse           `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
