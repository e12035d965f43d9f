package handler

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/models"
	"github.com/EpicMandM/evcharge-booking/internal/service"
	"github.com/julienschmidt/httprouter"
)

type bookingRequest struct {
	StationID string    `json:"stationId"`
	StartTime time.Time `json:"startTimeUtc"`
	EndTime   time.Time `json:"endTimeUtc"`
}

type approvalRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

type startRequest struct {
	QRCode string `json:"qrCode"`
}

type availabilityResponse struct {
	StationID       string             `json:"stationId"`
	Date            string             `json:"date"`
	TZOffsetMinutes int                `json:"tzOffsetMinutes"`
	Availability    []service.GridSlot `json:"availability"`
}

func (h *APIHandler) CreateBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params, caller models.Caller) {
	var req bookingRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.StationID == "" {
		h.writeError(w, r, apperror.Validation(apperror.GuardStation, "stationId is required"))
		return
	}
	b, err := h.bookings.Create(r.Context(), caller, service.BookingRequest{
		StationID: req.StationID,
		Start:     req.StartTime,
		End:       req.EndTime,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/bookings/"+b.ID)
	writeJSON(w, http.StatusCreated, b)
}

func (h *APIHandler) ListBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params, caller models.Caller) {
	h.writeList(w, r)(h.bookings.ListAll(r.Context(), caller))
}

func (h *APIHandler) GetBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	h.writeBooking(w, r)(h.bookings.Get(r.Context(), caller, ps.ByName("id")))
}

func (h *APIHandler) EditBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	var req bookingRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeBooking(w, r)(h.bookings.Edit(r.Context(), caller, ps.ByName("id"), req.StartTime, req.EndTime))
}

func (h *APIHandler) CancelBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	h.writeBooking(w, r)(h.bookings.Cancel(r.Context(), caller, ps.ByName("id")))
}

func (h *APIHandler) ApproveBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	var req approvalRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeBooking(w, r)(h.bookings.ApproveOrReject(r.Context(), caller, ps.ByName("id"), req.Approve, req.Reason))
}

func (h *APIHandler) StartBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeBooking(w, r)(h.bookings.Start(r.Context(), caller, ps.ByName("id"), req.QRCode))
}

func (h *APIHandler) CompleteBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	h.writeBooking(w, r)(h.bookings.Complete(r.Context(), caller, ps.ByName("id")))
}

func (h *APIHandler) BookingQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	png, err := h.bookings.SessionQR(r.Context(), caller, ps.ByName("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *APIHandler) MyBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params, caller models.Caller) {
	h.writeList(w, r)(h.bookings.ListMine(r.Context(), caller))
}

func (h *APIHandler) MyUpcoming(w http.ResponseWriter, r *http.Request, _ httprouter.Params, caller models.Caller) {
	h.writeList(w, r)(h.bookings.ListUpcoming(r.Context(), caller))
}

func (h *APIHandler) MyHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params, caller models.Caller) {
	h.writeList(w, r)(h.bookings.ListHistory(r.Context(), caller))
}

func (h *APIHandler) StationBookings(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	h.writeList(w, r)(h.bookings.ListByStation(r.Context(), caller, ps.ByName("id")))
}

func (h *APIHandler) StationAvailability(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ models.Caller) {
	q := r.URL.Query()
	offset := 0
	if raw := q.Get("tzOffsetMinutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, apperror.Validation(apperror.GuardOffset, "tzOffsetMinutes must be an integer"))
			return
		}
		offset = n
	}
	avail, err := h.bookings.Availability(r.Context(), ps.ByName("id"), q.Get("date"), offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		StationID:       avail.StationID,
		Date:            avail.Date,
		TZOffsetMinutes: avail.OffsetMinutes,
		Availability:    slices.Collect(avail.Slots),
	})
}

// writeBooking returns a sink for a (booking, error) pair.
func (h *APIHandler) writeBooking(w http.ResponseWriter, r *http.Request) func(*models.Booking, error) {
	return func(b *models.Booking, err error) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *APIHandler) writeList(w http.ResponseWriter, r *http.Request) func([]*models.Booking, error) {
	return func(list []*models.Booking, err error) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*models.Booking{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
