package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/logger"
	"github.com/EpicMandM/evcharge-booking/internal/models"
	"github.com/EpicMandM/evcharge-booking/internal/service"
	"github.com/julienschmidt/httprouter"
)

const maxBodyBytes = 1 << 20

type APIHandler struct {
	bookings *service.BookingService
	stations *service.StationService
	auth     *Authenticator
	logger   *logger.Logger
}

func NewAPIHandler(bookings *service.BookingService, stations *service.StationService, auth *Authenticator, log *logger.Logger) *APIHandler {
	return &APIHandler{
		bookings: bookings,
		stations: stations,
		auth:     auth,
		logger:   log,
	}
}

// callerHandle is an httprouter.Handle that runs after authentication.
type callerHandle func(http.ResponseWriter, *http.Request, httprouter.Params, models.Caller)

func (h *APIHandler) authed(fn callerHandle) httprouter.Handle {
	return h.auth.Authenticate(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		caller, _ := CallerFromContext(r.Context())
		fn(w, r, ps, caller)
	})
}

// Router registers every API route.
func (h *APIHandler) Router() *httprouter.Router {
	router := httprouter.New()
	router.GET("/health", h.Health)

	router.POST("/api/bookings", h.authed(h.CreateBooking))
	router.GET("/api/bookings", h.authed(h.ListBookings))
	router.GET("/api/bookings/:id", h.authed(h.GetBooking))
	router.PUT("/api/bookings/:id", h.authed(h.EditBooking))
	router.DELETE("/api/bookings/:id", h.authed(h.CancelBooking))
	router.PATCH("/api/bookings/:id/approve", h.authed(h.ApproveBooking))
	router.PATCH("/api/bookings/:id/start", h.authed(h.StartBooking))
	router.PATCH("/api/bookings/:id/complete", h.authed(h.CompleteBooking))
	router.GET("/api/bookings/:id/qr", h.authed(h.BookingQR))

	router.GET("/api/me/bookings", h.authed(h.MyBookings))
	router.GET("/api/me/bookings/upcoming", h.authed(h.MyUpcoming))
	router.GET("/api/me/bookings/history", h.authed(h.MyHistory))

	router.GET("/api/stations", h.authed(h.ListStations))
	router.POST("/api/stations", h.authed(h.CreateStation))
	router.GET("/api/stations/:id", h.authed(h.GetStation))
	router.PUT("/api/stations/:id", h.authed(h.UpdateStation))
	router.DELETE("/api/stations/:id", h.authed(h.DeleteStation))
	router.PATCH("/api/stations/:id/status", h.authed(h.SetStationStatus))
	router.PATCH("/api/stations/:id/slots", h.authed(h.SetStationSlots))
	router.POST("/api/stations/:id/operators/:userId", h.authed(h.AssignOperator))
	router.DELETE("/api/stations/:id/operators/:userId", h.authed(h.RemoveOperator))
	router.GET("/api/stations/:id/bookings", h.authed(h.StationBookings))
	router.GET("/api/stations/:id/availability", h.authed(h.StationAvailability))

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found"})
	})
	return router
}

func (h *APIHandler) Health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error string `json:"error"`
	Guard string `json:"guard,omitempty"`
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindAuthorization:
		if apperror.GuardOf(err) == apperror.GuardSessionToken {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	body := errorBody{Error: "internal error", Guard: apperror.GuardOf(err)}
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Kind != apperror.KindStore {
		body.Error = appErr.Message
	} else if code == http.StatusServiceUnavailable {
		body.Error = "storage unavailable, retry later"
	}
	if code >= http.StatusInternalServerError {
		h.logger.Error("Request failed", logger.Method(r.Method), logger.Path(r.URL.Path), logger.Error(err))
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperror.Validation(apperror.GuardRequest, "invalid JSON body")
	}
	return nil
}
