package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/booking"
	"github.com/hackgods/petcare-scheduling/internal/bootstrap"
	"github.com/hackgods/petcare-scheduling/internal/clock"
	"github.com/hackgods/petcare-scheduling/internal/config"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	app    *bootstrap.App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Config{
		Env:                     "test",
		StoreDriver:             config.DriverMemory,
		SlotWindowDays:          14,
		SlotMaxWindowDays:       30,
		DraftTTL:                config.Duration(30 * time.Minute),
		AppointmentWriteRetries: 3,
	}
	// Wednesday 2026-10-14, before opening
	clk := clock.NewMockClock(time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC))
	app := bootstrap.NewInMemory(cfg, zap.NewNop(), clk)
	return &testServer{
		t:      t,
		router: NewRouter(RouterConfig{App: app, Log: zap.NewNop(), Version: "test"}),
		app:    app,
	}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) seedProvider() {
	s.t.Helper()
	w := s.do(http.MethodPut, "/providers/drsmith", ProviderRequest{
		Name:     "Dr. Smith",
		Weekdays: []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
	}, nil)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/providers/drsmith/slots/generate", GenerateSlotsRequest{}, nil)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

var jane = map[string]string{
	"X-Identity-Id":    "u-jane",
	"X-Identity-Name":  "Jane",
	"X-Identity-Email": "jane@x.com",
}

func janeDetails() appointment.Details {
	return appointment.Details{
		Contact: appointment.Contact{Name: "Jane", Email: "jane@x.com", Phone: "555-0100"},
		Reason:  "vaccination",
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody[ReadinessResponse](t, w).Status)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestProvidersAndAvailability(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPut, "/providers/drsmith", ProviderRequest{Name: "Dr. Smith", Weekdays: []string{"funday"}}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, w).Fields, "weekdays")

	s.seedProvider()

	w = s.do(http.MethodGet, "/providers", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]appointment.Provider](t, w), 1)

	w = s.do(http.MethodGet, "/providers/drsmith/availability?date=2026-10-14", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	avail := decodeBody[AvailabilityResponse](t, w)
	require.Len(t, avail.Slots, 16)
	assert.Equal(t, "09:00", avail.Slots[0].Start)
	assert.Equal(t, "drsmith/2026-10-14/09:00", avail.Slots[0].Ref)

	w = s.do(http.MethodGet, "/providers/drsmith/availability?date=2026-10-18", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[AvailabilityResponse](t, w).Slots)

	w = s.do(http.MethodGet, "/providers/nobody/availability?date=2026-10-14", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/providers/drsmith/availability?date=14-10-2026", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestReservations(t *testing.T) {
	s := newTestServer(t)
	s.seedProvider()

	req := ReserveRequest{ProviderID: "drsmith", Date: "2026-10-14", Start: "09:00", Details: janeDetails()}

	w := s.do(http.MethodPost, "/reservations", req, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/reservations", req, jane)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	appt := decodeBody[appointment.Appointment](t, w)
	assert.Equal(t, appointment.StatusPending, appt.Status)
	assert.Equal(t, "u-jane", appt.RequesterID)

	w = s.do(http.MethodPost, "/reservations", req, jane)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "slot_conflict", decodeBody[ErrorResponse](t, w).Error)

	w = s.do(http.MethodPost, "/reservations", ReserveRequest{ProviderID: "drsmith", Date: "2026-10-14", Start: "08:00", Details: janeDetails()}, jane)
	assert.Equal(t, http.StatusNotFound, w.Code)

	bad := req
	bad.Start = "09:30"
	bad.Details.Contact.Phone = ""
	w = s.do(http.MethodPost, "/reservations", bad, jane)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, w).Fields, "contact.phone")

	w = s.do(http.MethodGet, "/appointments/"+appt.ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/appointments/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/appointments/6f1c3f5e-8a51-4c59-9d7d-2b1f3e0f7a11", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBookingSession_SignInDetour(t *testing.T) {
	s := newTestServer(t)
	s.seedProvider()

	w := s.do(http.MethodPost, "/bookings", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody[BookingResponse](t, w).ID
	base := "/bookings/" + id

	w = s.do(http.MethodPost, base+"/provider", ChooseProviderRequest{ProviderID: "drsmith"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[BookingResponse](t, w)
	assert.Equal(t, booking.StateSelectingSlot, resp.State)
	assert.Len(t, resp.Slots, 16)

	w = s.do(http.MethodPost, base+"/slot", ChooseSlotRequest{Start: "10:00"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/details", janeDetails(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/submit", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decodeBody[BookingResponse](t, w)
	assert.Equal(t, booking.StateAwaitingIdentity, resp.State)
	assert.Equal(t, booking.NoticeSignInToBook, resp.Notice)

	w = s.do(http.MethodPost, base+"/resume", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// returning signed in picks the draft back up
	w = s.do(http.MethodGet, base, nil, jane)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody[BookingResponse](t, w)
	assert.Equal(t, booking.StateConfirmed, resp.State)
	require.NotNil(t, resp.Appointment)
	assert.Equal(t, "10:00", resp.Appointment.Start)
	assert.Equal(t, "555-0100", resp.Appointment.Contact.Phone)
	assert.Equal(t, "u-jane", resp.Appointment.RequesterID)

	w = s.do(http.MethodPost, base+"/resume", nil, jane)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBookingSession_Errors(t *testing.T) {
	s := newTestServer(t)
	s.seedProvider()

	w := s.do(http.MethodPost, "/bookings/missing/provider", ChooseProviderRequest{ProviderID: "drsmith"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/bookings", nil, nil)
	base := "/bookings/" + decodeBody[BookingResponse](t, w).ID

	w = s.do(http.MethodPost, base+"/submit", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decodeBody[BookingResponse](t, w).Error.Error)

	w = s.do(http.MethodPost, base+"/provider", ChooseProviderRequest{ProviderID: "drsmith"}, jane)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, base+"/slot", ChooseSlotRequest{Start: "09:00"}, jane)
	require.Equal(t, http.StatusOK, w.Code)

	// someone else books 09:00 in the meantime
	other := map[string]string{"X-Identity-Id": "u-other"}
	w = s.do(http.MethodPost, "/reservations", ReserveRequest{ProviderID: "drsmith", Date: "2026-10-14", Start: "09:00", Details: janeDetails()}, other)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, base+"/details", janeDetails(), jane)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, base+"/submit", nil, jane)
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decodeBody[BookingResponse](t, w)
	assert.Equal(t, booking.StateSelectingSlot, resp.State)
	assert.Equal(t, booking.NoticeSlotTaken, resp.Notice)
	assert.Len(t, resp.Slots, 15)
	assert.Equal(t, janeDetails(), resp.Draft.Details)

	w = s.do(http.MethodPost, base+"/reset", nil, jane)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, booking.StateSelectingProvider, decodeBody[BookingResponse](t, w).State)
}

func TestGenerateSlots_WindowCap(t *testing.T) {
	s := newTestServer(t)
	s.seedProvider()

	w := s.do(http.MethodPost, "/providers/drsmith/slots/generate", GenerateSlotsRequest{WindowDays: 1000}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "must be at most 30", decodeBody[ErrorResponse](t, w).Fields["window_days"])

	w = s.do(http.MethodPost, "/providers/drsmith/slots/generate", GenerateSlotsRequest{WindowDays: 30}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 30, decodeBody[appointment.GenerateResult](t, w).WindowDays)
}

func TestReservations_BySlotRef(t *testing.T) {
	s := newTestServer(t)
	s.seedProvider()

	w := s.do(http.MethodGet, "/providers/drsmith/availability?date=2026-10-15", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	avail := decodeBody[AvailabilityResponse](t, w)
	require.NotEmpty(t, avail.Slots)
	ref := avail.Slots[2].Ref

	w = s.do(http.MethodPost, "/reservations", ReserveRequest{SlotRef: ref, Details: janeDetails()}, jane)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	appt := decodeBody[appointment.Appointment](t, w)
	assert.Equal(t, appointment.Date("2026-10-15"), appt.Date)
	assert.Equal(t, "10:00", appt.Start)

	w = s.do(http.MethodGet, "/providers/drsmith/availability?date=2026-10-15", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, slot := range decodeBody[AvailabilityResponse](t, w).Slots {
		assert.NotEqual(t, ref, slot.Ref)
	}

	w = s.do(http.MethodPost, "/reservations", ReserveRequest{SlotRef: "drsmith/tomorrow", Details: janeDetails()}, jane)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, w).Fields, "slot_ref")
}

// A parked draft whose slot is taken while the customer signs in reports
// the lost slot on the resume call itself.
func TestBookingSession_ResumeAfterSlotTaken(t *testing.T) {
	s := newTestServer(t)
	s.seedProvider()

	w := s.do(http.MethodPost, "/bookings", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	base := "/bookings/" + decodeBody[BookingResponse](t, w).ID

	w = s.do(http.MethodPost, base+"/provider", ChooseProviderRequest{ProviderID: "drsmith"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, base+"/slot", ChooseSlotRequest{Start: "11:00"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, base+"/details", janeDetails(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, base+"/submit", nil, nil)
	require.Equal(t, booking.StateAwaitingIdentity, decodeBody[BookingResponse](t, w).State)

	other := map[string]string{"X-Identity-Id": "u-other"}
	w = s.do(http.MethodPost, "/reservations", ReserveRequest{ProviderID: "drsmith", Date: "2026-10-14", Start: "11:00", Details: janeDetails()}, other)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, base+"/resume", nil, jane)
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decodeBody[BookingResponse](t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "slot_conflict", resp.Error.Error)
	assert.Equal(t, booking.StateSelectingSlot, resp.State)
	assert.Equal(t, booking.NoticeSlotTaken, resp.Notice)
	assert.Nil(t, resp.Appointment)

	// the outcome was stored; the next step works on it normally
	w = s.do(http.MethodPost, base+"/slot", ChooseSlotRequest{Start: "11:30"}, jane)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, booking.StateCollectingDetails, decodeBody[BookingResponse](t, w).State)
}

func TestBookingSession_Delete(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/bookings", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	base := "/bookings/" + decodeBody[BookingResponse](t, w).ID

	w = s.do(http.MethodDelete, base, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session_not_found", decodeBody[ErrorResponse](t, w).Error)
}
