package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/clock"
	"github.com/EpicMandM/evcharge-booking/internal/lock"
	"github.com/EpicMandM/evcharge-booking/internal/logger"
	"github.com/EpicMandM/evcharge-booking/internal/models"
	"github.com/EpicMandM/evcharge-booking/internal/service"
	"github.com/EpicMandM/evcharge-booking/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var (
	testNow    = time.Date(2025, 10, 13, 8, 0, 0, 0, time.UTC)
	owner      = models.Caller{ID: "200012345678", Role: models.RoleOwner}
	otherOwner = models.Caller{ID: "199912345678", Role: models.RoleOwner}
	operator   = models.Caller{ID: "op-1", Role: models.RoleOperator}
	backoffice = models.Caller{ID: "bo-1", Role: models.RoleBackoffice}
)

type apiFixture struct {
	handler http.Handler
	auth    *Authenticator
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	clk := clock.NewFixed(testNow)
	mem := store.NewMemoryStore(clk)
	require.NoError(t, mem.CreateStation(context.Background(), &models.Station{
		ID: "ST1", Name: "Colombo", Type: "DC", Capacity: 1, IsActive: true,
		Latitude: 6.9271, Longitude: 79.8612, OperatorIDs: []string{operator.ID},
	}))

	log := logger.Discard()
	policy := service.DefaultPolicy()
	locker := lock.NewKeyed()
	bookings := service.NewBookingService(log, mem, mem, policy,
		service.WithClock(clk),
		service.WithLocker(locker),
		service.WithTokenGenerator(func() (string, error) { return "session-1", nil }),
	)
	stations := service.NewStationService(log, mem, mem, locker, policy)
	auth := NewAuthenticator(testSecret)
	return &apiFixture{
		handler: NewAPIHandler(bookings, stations, auth, log).Router(),
		auth:    auth,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, caller *models.Caller, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(v))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		token, err := f.auth.Sign(*caller, time.Now(), time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func tomorrowAt(h int) time.Time {
	return time.Date(2025, 10, 14, h, 0, 0, 0, time.UTC)
}

func bookingBody(start, end time.Time) map[string]any {
	return map[string]any{"stationId": "ST1", "startTimeUtc": start, "endTimeUtc": end}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("missing token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/stations", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	tests := []struct {
		name   string
		header string
	}{
		{"not bearer", "Token abc"},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + signWith(t, []byte("other"), jwt.SigningMethodHS256, "Owner", "u1")},
		{"unknown role", "Bearer " + signWith(t, []byte(testSecret), jwt.SigningMethodHS256, "Admin", "u1")},
		{"missing subject", "Bearer " + signWith(t, []byte(testSecret), jwt.SigningMethodHS256, "Owner", "")},
		{"wrong algorithm", "Bearer " + signWith(t, []byte(testSecret), jwt.SigningMethodHS512, "Owner", "u1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stations", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("expired", func(t *testing.T) {
		token, err := f.auth.Sign(owner, time.Now().Add(-2*time.Hour), time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/stations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func signWith(t *testing.T, secret []byte, method jwt.SigningMethod, role, sub string) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestBookingLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/bookings", &owner, bookingBody(tomorrowAt(10), tomorrowAt(11)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Booking](t, rec)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, "/api/bookings/"+created.ID, rec.Header().Get("Location"))
	path := "/api/bookings/" + created.ID

	rec = f.do(t, http.MethodPost, "/api/bookings", &otherOwner, bookingBody(tomorrowAt(10), tomorrowAt(11)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperror.GuardCapacity, decode[errorBody](t, rec).Guard)

	rec = f.do(t, http.MethodGet, path+"/qr", &owner, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "no QR before approval")

	rec = f.do(t, http.MethodPatch, path+"/approve", &operator, map[string]any{"approve": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[models.Booking](t, rec)
	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.Equal(t, "session-1", approved.SessionToken)

	rec = f.do(t, http.MethodGet, path+"/qr", &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = f.do(t, http.MethodGet, path+"/qr", &otherOwner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPatch, path+"/start", &operator, map[string]any{"qrCode": "forged"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperror.GuardSessionToken, decode[errorBody](t, rec).Guard)

	rec = f.do(t, http.MethodPatch, path+"/start", &operator, map[string]any{"qrCode": "session-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusInProgress, decode[models.Booking](t, rec).Status)

	rec = f.do(t, http.MethodPatch, path+"/complete", &operator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusCompleted, decode[models.Booking](t, rec).Status)

	rec = f.do(t, http.MethodDelete, path, &owner, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperror.GuardStatus, decode[errorBody](t, rec).Guard)

	rec = f.do(t, http.MethodGet, "/api/me/bookings/history", &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Booking](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/me/bookings/upcoming", &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestBookingEditRejectAndCancel(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/bookings", &owner, bookingBody(tomorrowAt(10), tomorrowAt(11)))
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/api/bookings/" + decode[models.Booking](t, rec).ID

	rec = f.do(t, http.MethodPut, path, &owner, bookingBody(tomorrowAt(12), tomorrowAt(13)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[models.Booking](t, rec)
	assert.True(t, tomorrowAt(12).Equal(edited.StartTime))

	rec = f.do(t, http.MethodPut, path, &otherOwner, bookingBody(tomorrowAt(14), tomorrowAt(15)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperror.GuardOwnership, decode[errorBody](t, rec).Guard)

	rec = f.do(t, http.MethodPatch, path+"/approve", &operator, map[string]any{"approve": false, "reason": "maintenance"})
	require.Equal(t, http.StatusOK, rec.Code)
	rejected := decode[models.Booking](t, rec)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Equal(t, "maintenance", rejected.RejectionNote)

	rec = f.do(t, http.MethodPost, "/api/bookings", &owner, bookingBody(tomorrowAt(10), tomorrowAt(11)))
	require.Equal(t, http.StatusCreated, rec.Code)
	second := "/api/bookings/" + decode[models.Booking](t, rec).ID

	rec = f.do(t, http.MethodDelete, second, &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusCancelled, decode[models.Booking](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/api/bookings", &backoffice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Booking](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/api/bookings", &owner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/stations/ST1/bookings", &operator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Booking](t, rec), 2)
}

func TestBookingRequestErrors(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name  string
		body  any
		code  int
		guard string
	}{
		{"malformed json", `{"stationId":`, http.StatusBadRequest, apperror.GuardRequest},
		{"missing station", map[string]any{"startTimeUtc": tomorrowAt(10), "endTimeUtc": tomorrowAt(11)}, http.StatusBadRequest, apperror.GuardStation},
		{"empty window", bookingBody(tomorrowAt(10), tomorrowAt(10)), http.StatusBadRequest, apperror.GuardWindow},
		{"beyond advance limit", bookingBody(testNow.Add(8*24*time.Hour), testNow.Add(8*24*time.Hour+time.Hour)), http.StatusConflict, apperror.GuardAdvanceLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/bookings", &owner, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.guard, decode[errorBody](t, rec).Guard)
		})
	}

	rec := f.do(t, http.MethodGet, "/api/bookings/missing", &backoffice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/bookings", &operator, bookingBody(tomorrowAt(10), tomorrowAt(11)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperror.GuardRole, decode[errorBody](t, rec).Guard)
}

func TestStationAvailability(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/bookings", &owner, bookingBody(tomorrowAt(4), tomorrowAt(5)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/stations/ST1/availability?date=2025-10-14&tzOffsetMinutes=330", &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[availabilityResponse](t, rec)
	assert.Equal(t, "ST1", got.StationID)
	assert.Equal(t, "2025-10-14", got.Date)
	assert.Equal(t, 330, got.TZOffsetMinutes)
	require.Len(t, got.Availability, service.SlotsPerDay)
	// 04:00Z is 09:30 local at +05:30.
	assert.Equal(t, service.GridSlot{Time: "09:30", AvailableSlots: 0}, got.Availability[19])
	assert.Equal(t, service.GridSlot{Time: "10:30", AvailableSlots: 1}, got.Availability[21])

	tests := []struct {
		name  string
		path  string
		code  int
		guard string
	}{
		{"bad date", "/api/stations/ST1/availability?date=14-10-2025", http.StatusBadRequest, apperror.GuardDateFormat},
		{"bad offset", "/api/stations/ST1/availability?date=2025-10-14&tzOffsetMinutes=abc", http.StatusBadRequest, apperror.GuardOffset},
		{"offset out of range", "/api/stations/ST1/availability?date=2025-10-14&tzOffsetMinutes=1440", http.StatusBadRequest, apperror.GuardOffset},
		{"unknown station", "/api/stations/NOPE/availability?date=2025-10-14", http.StatusNotFound, apperror.GuardStation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, &owner, nil)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.guard, decode[errorBody](t, rec).Guard)
		})
	}
}

func TestStationAdministration(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/stations", &backoffice, map[string]any{
		"stationId": "ST2", "name": "Kandy", "type": "ac", "availableSlots": 2,
		"latitude": 7.2906, "longitude": 80.6337,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	st := decode[models.Station](t, rec)
	assert.True(t, st.IsActive, "stations default to active")
	assert.Equal(t, "AC", st.Type)

	rec = f.do(t, http.MethodPost, "/api/stations", &owner, map[string]any{"stationId": "ST3", "type": "AC"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/stations", &backoffice, map[string]any{"stationId": "ST2", "type": "AC"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/stations", &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Station](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/api/stations?lat=6.93&lng=79.86&radiusKm=5", &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	near := decode[[]map[string]any](t, rec)
	require.Len(t, near, 1)
	assert.Equal(t, "ST1", near[0]["stationId"])

	rec = f.do(t, http.MethodGet, "/api/stations?lat=x&lng=79.86", &owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/stations/ST2/slots?availableSlots=5", &backoffice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[models.Station](t, rec).Capacity)

	rec = f.do(t, http.MethodPatch, "/api/stations/ST2/slots?availableSlots=many", &backoffice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperror.GuardCapacityInput, decode[errorBody](t, rec).Guard)

	rec = f.do(t, http.MethodPost, "/api/stations/ST2/operators/op-7", &backoffice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"op-7"}, decode[models.Station](t, rec).OperatorIDs)

	rec = f.do(t, http.MethodDelete, "/api/stations/ST2/operators/op-7", &backoffice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[models.Station](t, rec).OperatorIDs)

	rec = f.do(t, http.MethodPut, "/api/stations/ST2", &backoffice, map[string]any{"name": "Kandy City", "type": "DC", "availableSlots": 3, "isActive": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Kandy City", decode[models.Station](t, rec).Name)

	rec = f.do(t, http.MethodPost, "/api/bookings", &owner, bookingBody(tomorrowAt(10), tomorrowAt(11)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/stations/ST1/status?isActive=false", &backoffice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperror.GuardActiveBookings, decode[errorBody](t, rec).Guard)

	rec = f.do(t, http.MethodPatch, "/api/stations/ST2/status?isActive=maybe", &backoffice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/stations/ST2/status?isActive=false", &backoffice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[models.Station](t, rec).IsActive)

	rec = f.do(t, http.MethodDelete, "/api/stations/ST2", &backoffice, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/stations/ST2", &owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateStation_OmittedIsActiveKeepsStationActive(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPut, "/api/stations/ST1", &backoffice, map[string]any{
		"name": "Colombo Fort", "type": "DC", "availableSlots": 1,
		"latitude": 6.9271, "longitude": 79.8612,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[models.Station](t, rec)
	assert.True(t, st.IsActive)
	assert.Equal(t, "Colombo Fort", st.Name)

	rec = f.do(t, http.MethodPost, "/api/bookings", &owner, bookingBody(tomorrowAt(10), tomorrowAt(11)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/stations/ST1", &backoffice, map[string]any{
		"name": "Colombo", "type": "DC", "availableSlots": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, "rename with active bookings must not read as deactivation: %s", rec.Body.String())
	assert.True(t, decode[models.Station](t, rec).IsActive)

	rec = f.do(t, http.MethodPut, "/api/stations/ST1", &backoffice, map[string]any{
		"name": "Colombo", "type": "DC", "availableSlots": 2, "isActive": false,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperror.GuardActiveBookings, decode[errorBody](t, rec).Guard)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{apperror.Validation(apperror.GuardWindow, "x"), http.StatusBadRequest},
		{apperror.NotFound(apperror.GuardBooking, "x"), http.StatusNotFound},
		{apperror.Authorization(apperror.GuardRole, "x"), http.StatusForbidden},
		{apperror.Authorization(apperror.GuardSessionToken, "x"), http.StatusUnauthorized},
		{apperror.Conflict(apperror.GuardCapacity, "x"), http.StatusConflict},
		{apperror.Store("x", errors.New("down")), http.StatusServiceUnavailable},
		{apperror.StoreGuard(apperror.GuardLock, "x", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusFor(tt.err), tt.err.Error())
	}
}

func TestWriteError_HidesStoreDetails(t *testing.T) {
	var buf bytes.Buffer
	h := &APIHandler{logger: logger.NewWithWriter(&buf)}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)

	h.writeError(rec, req, apperror.Store("insert booking", errors.New("disk full")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[errorBody](t, rec)
	assert.NotContains(t, body.Error, "disk full")
	assert.Equal(t, apperror.GuardPersistence, body.Guard)
	assert.Contains(t, buf.String(), "LEVEL=ERROR MESSAGE=Request failed")
}

func TestUnknownRoute(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/nothing", &owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))
}
