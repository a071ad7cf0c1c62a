package appointment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventSlotsGenerated        = "SLOTS_GENERATED"
	EventSlotReserved          = "SLOT_RESERVED"
	EventAppointmentCreated    = "APPOINTMENT_CREATED"
	EventAppointmentReconciled = "APPOINTMENT_RECONCILED"
)

// eventRecorder writes best-effort audit events. A failed write is logged
// and never fails the operation that produced it.
type eventRecorder struct {
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

func (e eventRecorder) record(ctx context.Context, eventType string, key SlotKey, appointmentID *uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		ProviderID:    key.ProviderID,
		Date:          key.Date,
		Start:         key.Start,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     e.now(),
	}

	if err := e.repo.InsertEvent(ctx, ev); err != nil {
		e.log.Warn("insert event log",
			zap.String("event", eventType),
			zap.String("slot", key.String()),
			zap.Error(err),
		)
	}
}
