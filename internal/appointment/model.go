package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

type SlotState string

const (
	SlotFree     SlotState = "free"
	SlotReserved SlotState = "reserved"
)

// WeeklyTemplate marks the weekdays a provider operates, indexed by time.Weekday.
type WeeklyTemplate [7]bool

func Weekdays(days ...time.Weekday) WeeklyTemplate {
	var w WeeklyTemplate
	for _, d := range days {
		w[d] = true
	}
	return w
}

func (w WeeklyTemplate) Operates(d time.Weekday) bool {
	return w[d]
}

type Provider struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Specialization string         `json:"specialization"`
	FeeCents       int64          `json:"fee_cents"`
	Bio            string         `json:"bio"`
	Weekly         WeeklyTemplate `json:"weekly"`
	AvgRating      float64        `json:"avg_rating"`
	RatingCount    int            `json:"rating_count"`
}

// SlotKey is the composite identity of a slot and its contention key.
type SlotKey struct {
	ProviderID string `json:"provider_id"`
	Date       Date   `json:"date"`
	Start      string `json:"start"`
}

type Slot struct {
	ProviderID string    `json:"provider_id"`
	Date       Date      `json:"date"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	State      SlotState `json:"state"`
	ReservedBy string    `json:"reserved_by,omitempty"`
	Hold       *Hold     `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s Slot) Key() SlotKey {
	return SlotKey{ProviderID: s.ProviderID, Date: s.Date, Start: s.Start}
}

// Hold is written together with the Free->Reserved flip. It carries the
// pending appointment so the appointment write can be replayed if it is lost.
type Hold struct {
	RequesterID string      `json:"requester_id"`
	Appointment Appointment `json:"appointment"`
	HeldAt      time.Time   `json:"held_at"`
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// PetProfile is the subject of the visit. The scheduling core does not interpret it.
type PetProfile struct {
	Name     string `json:"name"`
	Species  string `json:"species"`
	Breed    string `json:"breed,omitempty"`
	AgeYears int    `json:"age_years,omitempty"`
}

// Details is what the customer fills in before reserving.
type Details struct {
	Contact Contact     `json:"contact"`
	Reason  string      `json:"reason,omitempty"`
	Notes   string      `json:"notes,omitempty"`
	Pet     *PetProfile `json:"pet,omitempty"`
}

type Appointment struct {
	ID          uuid.UUID         `json:"id"`
	ProviderID  string            `json:"provider_id"`
	Date        Date              `json:"date"`
	Start       string            `json:"start"`
	End         string            `json:"end"`
	RequesterID string            `json:"requester_id"`
	Contact     Contact           `json:"contact"`
	Reason      string            `json:"reason,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Pet         *PetProfile       `json:"pet,omitempty"`
	Status      AppointmentStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (a Appointment) SlotKey() SlotKey {
	return SlotKey{ProviderID: a.ProviderID, Date: a.Date, Start: a.Start}
}

type EventLog struct {
	ID            int64
	EventType     string
	ProviderID    string
	Date          Date
	Start         string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
