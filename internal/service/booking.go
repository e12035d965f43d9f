package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/clock"
	"github.com/EpicMandM/evcharge-booking/internal/lock"
	"github.com/EpicMandM/evcharge-booking/internal/logger"
	"github.com/EpicMandM/evcharge-booking/internal/models"
)

// BookingService runs the booking state machine. Every mutation of a booking
// happens under its station's lock so admission checks and writes cannot
// interleave with another writer on the same station.
type BookingService struct {
	logger   *logger.Logger
	ledger   BookingLedger
	stations StationDirectory
	policy   Policy
	clock    clock.Clock
	locker   Locker
	tokens   TokenGenerator
	capacity CapacityResolver
}

type Option func(*BookingService)

func WithClock(c clock.Clock) Option {
	return func(s *BookingService) { s.clock = c }
}

func WithLocker(l Locker) Option {
	return func(s *BookingService) { s.locker = l }
}

func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *BookingService) { s.tokens = g }
}

func NewBookingService(log *logger.Logger, ledger BookingLedger, stations StationDirectory, policy Policy, opts ...Option) *BookingService {
	s := &BookingService{
		logger:   log,
		ledger:   ledger,
		stations: stations,
		policy:   policy,
		clock:    clock.Real{},
		locker:   lock.NewKeyed(),
		tokens:   NewSessionToken,
		capacity: NewCapacityResolver(ledger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BookingRequest carries the fields an owner supplies when creating a booking.
type BookingRequest struct {
	StationID string
	Start     time.Time
	End       time.Time
}

// Create admits a new Pending booking for the calling owner.
func (s *BookingService) Create(ctx context.Context, caller models.Caller, req BookingRequest) (*models.Booking, error) {
	if _, err := Evaluate(ActionCreate, Facts{Role: caller.Role}); err != nil {
		return nil, s.fail(ActionCreate, caller, "", req.StationID, err)
	}
	w := models.NewWindow(req.Start, req.End)
	if err := s.checkWindow(w); err != nil {
		return nil, s.fail(ActionCreate, caller, "", req.StationID, err)
	}

	var created *models.Booking
	err := s.withStationLock(ctx, req.StationID, func(ctx context.Context) error {
		st, err := s.stations.GetStation(ctx, req.StationID)
		if err != nil {
			return err
		}
		if err := s.admit(ctx, st, w, ""); err != nil {
			return err
		}
		b := &models.Booking{
			OwnerID:   caller.ID,
			StationID: st.ID,
			StartTime: w.Start,
			EndTime:   w.End,
			Status:    models.StatusPending,
		}
		if _, err := s.ledger.CreateBooking(ctx, b); err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		return nil, s.fail(ActionCreate, caller, "", req.StationID, err)
	}
	s.succeed(ActionCreate, caller, created)
	return created, nil
}

// Edit replaces the window of the caller's own Pending or Approved booking.
func (s *BookingService) Edit(ctx context.Context, caller models.Caller, id string, start, end time.Time) (*models.Booking, error) {
	return s.transition(ctx, caller, id, ActionEdit, func(ctx context.Context, b *models.Booking, st *models.Station, _ Decision) error {
		w := models.NewWindow(start, end)
		if err := s.checkWindow(w); err != nil {
			return err
		}
		if err := s.admit(ctx, st, w, b.ID); err != nil {
			return err
		}
		b.StartTime = w.Start
		b.EndTime = w.End
		return nil
	})
}

// Cancel moves a booking to Cancelled. Owners must respect the lead time.
func (s *BookingService) Cancel(ctx context.Context, caller models.Caller, id string) (*models.Booking, error) {
	return s.transition(ctx, caller, id, ActionCancel, nil)
}

// Approve admits the booking against current capacity and issues a session
// token on first approval. Re-approving keeps the existing token.
func (s *BookingService) Approve(ctx context.Context, caller models.Caller, id string) (*models.Booking, error) {
	return s.transition(ctx, caller, id, ActionApprove, func(ctx context.Context, b *models.Booking, st *models.Station, _ Decision) error {
		if err := s.admit(ctx, st, b.Window(), b.ID); err != nil {
			return err
		}
		if b.SessionToken == "" {
			tok, err := s.tokens()
			if err != nil {
				return apperror.Store("issue session token", err)
			}
			b.SessionToken = tok
		}
		return nil
	})
}

// Reject moves a booking to Rejected with reason, or the policy's default note.
func (s *BookingService) Reject(ctx context.Context, caller models.Caller, id, reason string) (*models.Booking, error) {
	return s.transition(ctx, caller, id, ActionReject, func(_ context.Context, b *models.Booking, _ *models.Station, _ Decision) error {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = s.policy.DefaultRejectionNote
		}
		b.RejectionNote = reason
		return nil
	})
}

func (s *BookingService) ApproveOrReject(ctx context.Context, caller models.Caller, id string, approve bool, reason string) (*models.Booking, error) {
	if approve {
		return s.Approve(ctx, caller, id)
	}
	return s.Reject(ctx, caller, id, reason)
}

// Start begins a charging session. token must match the one issued on approval.
func (s *BookingService) Start(ctx context.Context, caller models.Caller, id, token string) (*models.Booking, error) {
	return s.transition(ctx, caller, id, ActionStart, func(_ context.Context, b *models.Booking, _ *models.Station, _ Decision) error {
		if b.SessionToken == "" || b.SessionToken != strings.TrimSpace(token) {
			return apperror.Authorization(apperror.GuardSessionToken, "invalid session token")
		}
		return nil
	})
}

func (s *BookingService) Complete(ctx context.Context, caller models.Caller, id string) (*models.Booking, error) {
	return s.transition(ctx, caller, id, ActionComplete, nil)
}

type applyFunc func(ctx context.Context, b *models.Booking, st *models.Station, d Decision) error

// transition is the shared read-check-write path for existing bookings.
func (s *BookingService) transition(ctx context.Context, caller models.Caller, id string, action Action, apply applyFunc) (*models.Booking, error) {
	// The station id is immutable, so an unlocked read is enough to find the lock.
	current, err := s.ledger.GetBooking(ctx, id)
	if err != nil {
		return nil, s.fail(action, caller, id, "", err)
	}

	var saved *models.Booking
	err = s.withStationLock(ctx, current.StationID, func(ctx context.Context) error {
		b, err := s.ledger.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		st, err := s.lookupStation(ctx, b.StationID)
		if err != nil {
			return err
		}
		d, err := Evaluate(action, Facts{
			Role:     caller.Role,
			Status:   b.Status,
			Owns:     b.OwnerID == caller.ID,
			Assigned: st != nil && st.HasOperator(caller.ID),
		})
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if d.NeedsLeadTime && !b.Window().HasLeadTime(now, s.policy.LeadTime.Duration) {
			return apperror.Conflict(apperror.GuardLeadTime, "changes must be made at least "+s.policy.LeadTime.String()+" before start")
		}
		if apply != nil {
			if err := apply(ctx, b, st, d); err != nil {
				return err
			}
		}
		b.Status = d.To
		b.UpdatedAt = now
		if err := s.ledger.SaveBooking(ctx, b); err != nil {
			return err
		}
		saved = b
		return nil
	})
	if err != nil {
		return nil, s.fail(action, caller, id, current.StationID, err)
	}
	s.succeed(action, caller, saved)
	return saved, nil
}

// checkWindow applies the window, duration and advance-limit rules.
func (s *BookingService) checkWindow(w models.Window) error {
	if !w.Valid() {
		return apperror.Validation(apperror.GuardWindow, "end time must be after start time")
	}
	if w.ExceedsDuration(s.policy.MaxDuration.Duration) {
		return apperror.Validation(apperror.GuardMaxDuration, "booking may not exceed "+s.policy.MaxDuration.String())
	}
	if !w.WithinAdvanceLimit(s.clock.Now(), s.policy.AdvanceLimit.Duration) {
		return apperror.Conflict(apperror.GuardAdvanceLimit, "start time must be within "+s.policy.AdvanceLimit.String())
	}
	return nil
}

// admit requires an active station with room for w.
func (s *BookingService) admit(ctx context.Context, st *models.Station, w models.Window, excludeID string) error {
	if st == nil || !st.IsActive {
		return apperror.Conflict(apperror.GuardStationInactive, "station not available")
	}
	return s.capacity.Require(ctx, st.ID, w, st.Capacity, excludeID)
}

// lookupStation returns nil without error when the station no longer exists.
func (s *BookingService) lookupStation(ctx context.Context, id string) (*models.Station, error) {
	st, err := s.stations.GetStation(ctx, id)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, nil
	}
	return st, err
}

func (s *BookingService) withStationLock(ctx context.Context, stationID string, fn func(context.Context) error) error {
	return withLock(ctx, s.locker, s.policy.LockWait.Duration, stationID, fn)
}

func withLock(ctx context.Context, locker Locker, wait time.Duration, key string, fn func(context.Context) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	release, err := locker.Acquire(lockCtx, "station:"+key)
	cancel()
	if err != nil {
		return apperror.StoreGuard(apperror.GuardLock, "station is busy, retry", err)
	}
	defer release()
	return fn(ctx)
}

func (s *BookingService) succeed(action Action, caller models.Caller, b *models.Booking) {
	s.logger.Info("Booking transition applied",
		logger.Action(string(action)),
		logger.Booking(b.ID),
		logger.Station(b.StationID),
		logger.Status(string(b.Status)),
		logger.User(caller.ID),
	)
}

func (s *BookingService) fail(action Action, caller models.Caller, bookingID, stationID string, err error) error {
	fields := []logger.Field{
		logger.Action(string(action)),
		logger.Booking(bookingID),
		logger.Station(stationID),
		logger.User(caller.ID),
		logger.Role(string(caller.Role)),
		logger.Guard(apperror.GuardOf(err)),
		logger.Error(err),
	}
	if apperror.Is(err, apperror.KindStore) || apperror.KindOf(err) == apperror.KindUnknown {
		s.logger.Error("Booking transition failed", fields...)
	} else {
		s.logger.Warn("Booking transition rejected", fields...)
	}
	return err
}

// Get returns one booking if the caller may see it.
func (s *BookingService) Get(ctx context.Context, caller models.Caller, id string) (*models.Booking, error) {
	b, err := s.ledger.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	switch caller.Role {
	case models.RoleBackoffice:
	case models.RoleOwner:
		if b.OwnerID != caller.ID {
			return nil, apperror.Authorization(apperror.GuardOwnership, "booking belongs to another owner")
		}
	case models.RoleOperator:
		st, err := s.lookupStation(ctx, b.StationID)
		if err != nil {
			return nil, err
		}
		if st == nil || !st.HasOperator(caller.ID) {
			return nil, apperror.Authorization(apperror.GuardAssignment, "operator is not assigned to this station")
		}
	default:
		return nil, errRole(caller.Role)
	}
	return b, nil
}

// ListAll returns every booking, newest first.
func (s *BookingService) ListAll(ctx context.Context, caller models.Caller) ([]*models.Booking, error) {
	if err := requireRole(caller, models.RoleBackoffice); err != nil {
		return nil, err
	}
	return s.ledger.ListBookings(ctx)
}

// ListMine returns the caller's bookings, latest start first.
func (s *BookingService) ListMine(ctx context.Context, caller models.Caller) ([]*models.Booking, error) {
	if err := requireRole(caller, models.RoleOwner); err != nil {
		return nil, err
	}
	return s.ledger.ListBookingsByOwner(ctx, caller.ID)
}

// ListUpcoming returns the caller's active bookings that have not started, soonest first.
func (s *BookingService) ListUpcoming(ctx context.Context, caller models.Caller) ([]*models.Booking, error) {
	mine, err := s.ListMine(ctx, caller)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	upcoming := slices.DeleteFunc(mine, func(b *models.Booking) bool {
		return !b.Status.Active() || b.StartTime.Before(now)
	})
	slices.SortStableFunc(upcoming, func(a, b *models.Booking) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return upcoming, nil
}

// ListHistory returns completed or cancelled bookings plus anything already ended.
func (s *BookingService) ListHistory(ctx context.Context, caller models.Caller) ([]*models.Booking, error) {
	mine, err := s.ListMine(ctx, caller)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	return slices.DeleteFunc(mine, func(b *models.Booking) bool {
		ended := b.EndTime.Before(now)
		return b.Status != models.StatusCompleted && b.Status != models.StatusCancelled && !ended
	}), nil
}

// ListByStation returns a station's bookings for its operators and backoffice.
func (s *BookingService) ListByStation(ctx context.Context, caller models.Caller, stationID string) ([]*models.Booking, error) {
	if err := requireRole(caller, models.RoleOperator, models.RoleBackoffice); err != nil {
		return nil, err
	}
	st, err := s.stations.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if caller.Role == models.RoleOperator && !st.HasOperator(caller.ID) {
		return nil, apperror.Authorization(apperror.GuardAssignment, "operator is not assigned to this station")
	}
	return s.ledger.ListBookingsByStation(ctx, stationID)
}

// Availability builds the half-hour grid of free slots for a local day.
func (s *BookingService) Availability(ctx context.Context, stationID, date string, offsetMinutes int) (*Availability, error) {
	day, err := ParseLocalDate(date)
	if err != nil {
		return nil, err
	}
	if err := validateOffset(offsetMinutes); err != nil {
		return nil, err
	}
	st, err := s.stations.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if !st.IsActive {
		return nil, apperror.Conflict(apperror.GuardStationInactive, "station not available")
	}
	active, err := s.ledger.ListActiveOverlapping(ctx, st.ID, DayWindow(day, offsetMinutes))
	if err != nil {
		return nil, err
	}
	return &Availability{
		StationID:     st.ID,
		Date:          day.Format(dateLayout),
		OffsetMinutes: offsetMinutes,
		Capacity:      st.Capacity,
		Slots:         BuildGrid(day, offsetMinutes, st.Capacity, active),
	}, nil
}

// SessionQR renders the booking's session token for its owner.
func (s *BookingService) SessionQR(ctx context.Context, caller models.Caller, id string) ([]byte, error) {
	if err := requireRole(caller, models.RoleOwner, models.RoleBackoffice); err != nil {
		return nil, err
	}
	b, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if b.SessionToken == "" {
		return nil, apperror.Conflict(apperror.GuardStatus, "booking has not been approved")
	}
	png, err := RenderQR(b.SessionToken)
	if err != nil {
		return nil, apperror.Store("render session QR", err)
	}
	return png, nil
}

func requireRole(caller models.Caller, roles ...models.Role) error {
	if slices.Contains(roles, caller.Role) {
		return nil
	}
	return errRole(caller.Role)
}

func errRole(role models.Role) error {
	return apperror.Authorization(apperror.GuardRole, "role "+string(role)+" is not allowed here")
}
