package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/booking"
)

var errInvalidBody = errors.New("could not parse JSON")

type bookingStep func(ctx context.Context, r *http.Request, wf *booking.Workflow) error

func bindJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Mark(err, errInvalidBody)
	}
	return nil
}

func bookingResponse(id string, wf *booking.Workflow, err error) BookingResponse {
	resp := BookingResponse{
		ID:          id,
		State:       wf.State(),
		Draft:       wf.Draft(),
		Slots:       wf.Slots(),
		Appointment: wf.Appointment(),
		Notice:      wf.Notice(),
	}
	if err != nil {
		_, body := describeError(err)
		resp.Error = &body
	}
	return resp
}

func (h *handlers) startBooking(w http.ResponseWriter, r *http.Request) {
	id, wf, err := h.app.Sessions.Start(r.Context(), requestIdentity{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse(id, wf, nil))
}

// getBooking also resumes a session parked on sign-in once the request
// carries an identity.
func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := h.app.Sessions.Open(r.Context(), id, requestIdentity{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var resumeErr error
	if wf.AutoResumed() {
		resumeErr = wf.Err()
	}
	writeJSON(w, http.StatusOK, bookingResponse(id, wf, resumeErr))
}

func (h *handlers) deleteBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Sessions.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// step loads the session, applies one transition and saves the result
// whether or not the transition failed, since failures move the workflow too.
// When opening the session already resumed a parked draft, the request
// answers with that outcome instead of applying fn.
func (h *handlers) step(fn bookingStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		wf, err := h.app.Sessions.Open(ctx, id, requestIdentity{})
		if err != nil {
			h.fail(w, r, err)
			return
		}

		var stepErr error
		if wf.AutoResumed() {
			stepErr = wf.Err()
		} else {
			stepErr = fn(ctx, r, wf)
			if err := h.app.Sessions.Save(ctx, id, wf); err != nil {
				h.saveFailed(w, r, id, err)
				return
			}
		}

		status := http.StatusOK
		if stepErr != nil {
			status, _ = describeError(stepErr)
		}
		writeJSON(w, status, bookingResponse(id, wf, stepErr))
	}
}

// saveFailed answers a step whose result could not be stored. A session
// changed by a concurrent request is reported with its current state.
func (h *handlers) saveFailed(w http.ResponseWriter, r *http.Request, id string, err error) {
	if !errors.Is(err, booking.ErrSessionConflict) {
		h.fail(w, r, err)
		return
	}
	current, openErr := h.app.Sessions.Open(r.Context(), id, requestIdentity{})
	if openErr != nil {
		h.fail(w, r, openErr)
		return
	}
	writeJSON(w, http.StatusConflict, bookingResponse(id, current, err))
}

func chooseProvider(ctx context.Context, r *http.Request, wf *booking.Workflow) error {
	var req ChooseProviderRequest
	if err := bindJSON(r, &req); err != nil {
		return err
	}
	return wf.ChooseProvider(ctx, req.ProviderID)
}

func chooseDate(ctx context.Context, r *http.Request, wf *booking.Workflow) error {
	var req ChooseDateRequest
	if err := bindJSON(r, &req); err != nil {
		return err
	}
	return wf.ChooseDate(ctx, appointment.Date(req.Date))
}

func chooseSlot(ctx context.Context, r *http.Request, wf *booking.Workflow) error {
	var req ChooseSlotRequest
	if err := bindJSON(r, &req); err != nil {
		return err
	}
	return wf.ChooseSlot(ctx, req.Start)
}

func updateDetails(_ context.Context, r *http.Request, wf *booking.Workflow) error {
	var d appointment.Details
	if err := bindJSON(r, &d); err != nil {
		return err
	}
	return wf.UpdateDetails(d)
}

func submit(ctx context.Context, _ *http.Request, wf *booking.Workflow) error {
	return wf.Submit(ctx)
}

// resume is a no-op for a session that Open already confirmed.
func resume(ctx context.Context, _ *http.Request, wf *booking.Workflow) error {
	if wf.State() == booking.StateConfirmed {
		return nil
	}
	who, err := requestIdentity{}.Authenticate(ctx)
	if err != nil {
		return err
	}
	return wf.Resume(ctx, who)
}

func reset(_ context.Context, _ *http.Request, wf *booking.Workflow) error {
	wf.StartOver()
	return nil
}
