package service

import (
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/logger"
	"github.com/EpicMandM/evcharge-booking/internal/models"
)

const earthRadiusKm = 6371.0

// StationService administers stations. Changes that affect admission run
// under the same per-station lock as booking transitions.
type StationService struct {
	logger   *logger.Logger
	stations StationDirectory
	ledger   BookingLedger
	locker   Locker
	lockWait time.Duration
}

func NewStationService(log *logger.Logger, stations StationDirectory, ledger BookingLedger, locker Locker, policy Policy) *StationService {
	return &StationService{
		logger:   log,
		stations: stations,
		ledger:   ledger,
		locker:   locker,
		lockWait: policy.LockWait.Duration,
	}
}

// StationDistance is a station annotated with its distance from a search point.
type StationDistance struct {
	*models.Station
	DistanceKm float64 `json:"distanceKm"`
}

func (s *StationService) Create(ctx context.Context, caller models.Caller, st *models.Station) (*models.Station, error) {
	if err := requireRole(caller, models.RoleBackoffice); err != nil {
		return nil, err
	}
	st = st.Clone()
	st.ID = strings.TrimSpace(st.ID)
	if st.ID == "" {
		return nil, apperror.Validation(apperror.GuardStation, "stationId is required")
	}
	if err := normalizeStation(st); err != nil {
		return nil, err
	}
	if err := s.stations.CreateStation(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info("Station created", logger.Station(st.ID), logger.Count(st.Capacity), logger.User(caller.ID))
	return st, nil
}

// Update replaces a station's attributes. Operator assignments are kept when
// the update carries none.
func (s *StationService) Update(ctx context.Context, caller models.Caller, id string, updated *models.Station) (*models.Station, error) {
	if err := requireRole(caller, models.RoleBackoffice); err != nil {
		return nil, err
	}
	next := updated.Clone()
	next.ID = id
	if err := normalizeStation(next); err != nil {
		return nil, err
	}
	err := s.withStation(ctx, id, func(ctx context.Context, existing *models.Station) error {
		if len(next.OperatorIDs) == 0 {
			next.OperatorIDs = existing.OperatorIDs
		}
		if existing.IsActive && !next.IsActive {
			if err := s.ensureNoActiveBookings(ctx, id, "deactivate"); err != nil {
				return err
			}
		}
		return s.stations.SaveStation(ctx, next)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Station updated", logger.Station(id), logger.User(caller.ID))
	return next, nil
}

func (s *StationService) Get(ctx context.Context, id string) (*models.Station, error) {
	return s.stations.GetStation(ctx, id)
}

func (s *StationService) List(ctx context.Context) ([]*models.Station, error) {
	return s.stations.ListStations(ctx)
}

// Nearby returns active stations within radiusKm of (lat, lng), closest first.
func (s *StationService) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]StationDistance, error) {
	if !validLat(lat) || !validLng(lng) || radiusKm <= 0 {
		return nil, apperror.Validation(apperror.GuardCoordinates, "invalid coordinates or radius")
	}
	all, err := s.stations.ListStations(ctx)
	if err != nil {
		return nil, err
	}
	out := []StationDistance{}
	for _, st := range all {
		if !st.IsActive {
			continue
		}
		if d := haversineKm(lat, lng, st.Latitude, st.Longitude); d <= radiusKm {
			out = append(out, StationDistance{Station: st, DistanceKm: d})
		}
	}
	slices.SortStableFunc(out, func(a, b StationDistance) int {
		switch {
		case a.DistanceKm < b.DistanceKm:
			return -1
		case a.DistanceKm > b.DistanceKm:
			return 1
		}
		return 0
	})
	return out, nil
}

// SetActive toggles a station. Deactivation is refused while active bookings exist.
func (s *StationService) SetActive(ctx context.Context, caller models.Caller, id string, active bool) (*models.Station, error) {
	if err := requireRole(caller, models.RoleBackoffice); err != nil {
		return nil, err
	}
	var saved *models.Station
	err := s.withStation(ctx, id, func(ctx context.Context, st *models.Station) error {
		if !active {
			if err := s.ensureNoActiveBookings(ctx, id, "deactivate"); err != nil {
				return err
			}
		}
		st.IsActive = active
		saved = st
		return s.stations.SaveStation(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Station status changed", logger.Station(id), logger.F("ACTIVE", active), logger.User(caller.ID))
	return saved, nil
}

// Delete removes a station that has no active bookings.
func (s *StationService) Delete(ctx context.Context, caller models.Caller, id string) error {
	if err := requireRole(caller, models.RoleBackoffice); err != nil {
		return err
	}
	err := s.withStation(ctx, id, func(ctx context.Context, _ *models.Station) error {
		if err := s.ensureNoActiveBookings(ctx, id, "delete"); err != nil {
			return err
		}
		return s.stations.DeleteStation(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Station deleted", logger.Station(id), logger.User(caller.ID))
	return nil
}

// SetCapacity changes the slot count. Existing bookings are not re-evaluated.
func (s *StationService) SetCapacity(ctx context.Context, caller models.Caller, id string, capacity int) (*models.Station, error) {
	if err := requireRole(caller, models.RoleOperator, models.RoleBackoffice); err != nil {
		return nil, err
	}
	if capacity < 0 {
		return nil, apperror.Validation(apperror.GuardCapacityInput, "availableSlots cannot be negative")
	}
	var saved *models.Station
	err := s.withStation(ctx, id, func(ctx context.Context, st *models.Station) error {
		if caller.Role == models.RoleOperator && !st.HasOperator(caller.ID) {
			return apperror.Authorization(apperror.GuardAssignment, "operator is not assigned to this station")
		}
		st.Capacity = capacity
		saved = st
		return s.stations.SaveStation(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Station capacity changed", logger.Station(id), logger.Count(capacity), logger.User(caller.ID))
	return saved, nil
}

func (s *StationService) AssignOperator(ctx context.Context, caller models.Caller, id, userID string) (*models.Station, error) {
	return s.changeOperators(ctx, caller, id, userID, func(ids []string) []string {
		if slices.Contains(ids, userID) {
			return ids
		}
		return append(ids, userID)
	})
}

func (s *StationService) RemoveOperator(ctx context.Context, caller models.Caller, id, userID string) (*models.Station, error) {
	return s.changeOperators(ctx, caller, id, userID, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(v string) bool { return v == userID })
	})
}

func (s *StationService) changeOperators(ctx context.Context, caller models.Caller, id, userID string, edit func([]string) []string) (*models.Station, error) {
	if err := requireRole(caller, models.RoleBackoffice); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.Validation(apperror.GuardStation, "userId is required")
	}
	var saved *models.Station
	err := s.withStation(ctx, id, func(ctx context.Context, st *models.Station) error {
		st.OperatorIDs = edit(st.OperatorIDs)
		saved = st
		return s.stations.SaveStation(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Station operators changed", logger.Station(id), logger.User(userID), logger.Count(len(saved.OperatorIDs)))
	return saved, nil
}

// withStation loads id under its station lock and hands it to fn.
func (s *StationService) withStation(ctx context.Context, id string, fn func(context.Context, *models.Station) error) error {
	return withLock(ctx, s.locker, s.lockWait, id, func(ctx context.Context) error {
		st, err := s.stations.GetStation(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, st)
	})
}

func (s *StationService) ensureNoActiveBookings(ctx context.Context, id, verb string) error {
	has, err := s.ledger.HasActiveBookings(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return apperror.Conflict(apperror.GuardActiveBookings, "cannot "+verb+": station has active bookings")
	}
	return nil
}

// normalizeStation validates type, coordinates and capacity and de-duplicates operators.
func normalizeStation(st *models.Station) error {
	st.Type = strings.ToUpper(strings.TrimSpace(st.Type))
	if st.Type != "AC" && st.Type != "DC" {
		return apperror.Validation(apperror.GuardStationType, "type must be 'AC' or 'DC'")
	}
	if !validLat(st.Latitude) || !validLng(st.Longitude) {
		return apperror.Validation(apperror.GuardCoordinates, "invalid latitude/longitude")
	}
	if st.Capacity < 0 {
		return apperror.Validation(apperror.GuardCapacityInput, "availableSlots cannot be negative")
	}
	ids := make([]string, 0, len(st.OperatorIDs))
	for _, id := range st.OperatorIDs {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	st.OperatorIDs = ids
	return nil
}

func validLat(lat float64) bool { return lat >= -90 && lat <= 90 }
func validLng(lng float64) bool { return lng >= -180 && lng <= 180 }

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
