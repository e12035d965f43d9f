package handler

import (
	"net/http"
	"strconv"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/models"
	"github.com/julienschmidt/httprouter"
)

const defaultRadiusKm = 10.0

func (h *APIHandler) ListStations(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ models.Caller) {
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lng") == "" {
		list, err := h.stations.List(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*models.Station{}
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		h.writeError(w, r, apperror.Validation(apperror.GuardCoordinates, "lat and lng must be numbers"))
		return
	}
	radius := defaultRadiusKm
	if raw := q.Get("radiusKm"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.writeError(w, r, apperror.Validation(apperror.GuardCoordinates, "radiusKm must be a number"))
			return
		}
		radius = v
	}
	near, err := h.stations.Nearby(r.Context(), lat, lng, radius)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, near)
}

func (h *APIHandler) CreateStation(w http.ResponseWriter, r *http.Request, _ httprouter.Params, caller models.Caller) {
	// New stations are active unless the body says otherwise.
	st := models.Station{IsActive: true}
	if err := decodeBody(r, &st); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.stations.Create(r.Context(), caller, &st)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/stations/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (h *APIHandler) GetStation(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ models.Caller) {
	h.writeStation(w, r)(h.stations.Get(r.Context(), ps.ByName("id")))
}

func (h *APIHandler) UpdateStation(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	st := models.Station{IsActive: true}
	if err := decodeBody(r, &st); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeStation(w, r)(h.stations.Update(r.Context(), caller, ps.ByName("id"), &st))
}

func (h *APIHandler) DeleteStation(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	if err := h.stations.Delete(r.Context(), caller, ps.ByName("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) SetStationStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	active, err := strconv.ParseBool(r.URL.Query().Get("isActive"))
	if err != nil {
		h.writeError(w, r, apperror.Validation(apperror.GuardStation, "isActive must be true or false"))
		return
	}
	h.writeStation(w, r)(h.stations.SetActive(r.Context(), caller, ps.ByName("id"), active))
}

func (h *APIHandler) SetStationSlots(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	n, err := strconv.Atoi(r.URL.Query().Get("availableSlots"))
	if err != nil {
		h.writeError(w, r, apperror.Validation(apperror.GuardCapacityInput, "availableSlots must be an integer"))
		return
	}
	h.writeStation(w, r)(h.stations.SetCapacity(r.Context(), caller, ps.ByName("id"), n))
}

func (h *APIHandler) AssignOperator(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	h.writeStation(w, r)(h.stations.AssignOperator(r.Context(), caller, ps.ByName("id"), ps.ByName("userId")))
}

func (h *APIHandler) RemoveOperator(w http.ResponseWriter, r *http.Request, ps httprouter.Params, caller models.Caller) {
	h.writeStation(w, r)(h.stations.RemoveOperator(r.Context(), caller, ps.ByName("id"), ps.ByName("userId")))
}

func (h *APIHandler) writeStation(w http.ResponseWriter, r *http.Request) func(*models.Station, error) {
	return func(st *models.Station, err error) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
