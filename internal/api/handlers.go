package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/bootstrap"
)

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

type handlers struct {
	app *bootstrap.App
	log *zap.Logger
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func (h *handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.app.Store.ListProviders(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (h *handlers) getProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Store.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) upsertProvider(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if !decode(w, r, &req) {
		return
	}

	verr := &appointment.ValidationError{}
	if strings.TrimSpace(req.Name) == "" {
		verr.Add("name", "required")
	}
	days := make([]time.Weekday, 0, len(req.Weekdays))
	for _, name := range req.Weekdays {
		d, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			verr.Add("weekdays", "unknown weekday "+name)
			continue
		}
		days = append(days, d)
	}
	if !verr.Empty() {
		writeDomainError(w, verr)
		return
	}

	p := appointment.Provider{
		ID:             chi.URLParam(r, "id"),
		Name:           req.Name,
		Specialization: req.Specialization,
		FeeCents:       req.FeeCents,
		Bio:            req.Bio,
		Weekly:         appointment.Weekdays(days...),
	}
	if err := h.app.Store.UpsertProvider(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) generateSlots(w http.ResponseWriter, r *http.Request) {
	var req GenerateSlotsRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.app.Store.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	tmpl := req.Template
	if len(tmpl) == 0 {
		tmpl = appointment.DefaultSlotTemplate()
	}
	windowDays := req.WindowDays
	if windowDays == 0 {
		windowDays = h.app.Config.SlotWindowDays
	}

	res, err := h.app.Generator.Generate(r.Context(), appointment.GenerateRequest{
		Provider:   *p,
		Template:   tmpl,
		From:       appointment.Date(req.From),
		WindowDays: windowDays,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) availability(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = appointment.DateOf(h.app.Clock.Now()).String()
	}

	slots, err := h.app.Availability.FreeSlots(r.Context(), providerID, appointment.Date(date))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := AvailabilityResponse{ProviderID: providerID, Date: date, Slots: make([]AvailableSlot, 0, len(slots))}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, AvailableSlot{Slot: s, Ref: s.Key().String()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) reserve(w http.ResponseWriter, r *http.Request) {
	who, ok := requestIdentity{}.Current(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity_required", "X-Identity-Id header is required")
		return
	}

	var req ReserveRequest
	if !decode(w, r, &req) {
		return
	}

	key, err := req.key()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	appt, err := h.app.Coordinator.Reserve(r.Context(), appointment.ReserveRequest{
		Key:         key,
		RequesterID: who.ID,
		Details:     req.Details,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	appt, err := h.app.Coordinator.GetAppointment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// fail writes the mapped error and logs anything that is not the caller's fault.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := describeError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}
