package store

import (
	"context"
	"sort"
	"time"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/models"
	"github.com/google/uuid"
)

// Store defines the interface for database operations.
type Store interface {
	// Booking ledger methods
	CreateBooking(ctx context.Context, booking *models.Booking) (string, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	SaveBooking(ctx context.Context, booking *models.Booking) error
	ListBookings(ctx context.Context) ([]*models.Booking, error)
	ListBookingsByStation(ctx context.Context, stationID string) ([]*models.Booking, error)
	ListBookingsByOwner(ctx context.Context, ownerID string) ([]*models.Booking, error)
	CountActiveOverlapping(ctx context.Context, stationID string, w models.Window, excludeID string) (int, error)
	ListActiveOverlapping(ctx context.Context, stationID string, w models.Window) ([]*models.Booking, error)
	HasActiveBookings(ctx context.Context, stationID string) (bool, error)

	// Station related methods
	GetStation(ctx context.Context, id string) (*models.Station, error)
	CreateStation(ctx context.Context, station *models.Station) error
	SaveStation(ctx context.Context, station *models.Station) error
	ListStations(ctx context.Context) ([]*models.Station, error)
	DeleteStation(ctx context.Context, id string) error

	Close() error
}

// prepareNew stamps identity, timestamps and the default status on a booking
// about to be inserted.
func prepareNew(b *models.Booking, now time.Time) error {
	if !b.Window().Valid() {
		return apperror.Validation(apperror.GuardWindow, "end time must be after start time")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = models.StatusPending
	}
	b.StartTime = b.StartTime.UTC()
	b.EndTime = b.EndTime.UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func errBookingNotFound(id string) error {
	return apperror.NotFound(apperror.GuardBooking, "booking "+id+" not found")
}

func errStationNotFound(id string) error {
	return apperror.NotFound(apperror.GuardStation, "station "+id+" not found")
}

func errStationExists(id string) error {
	return apperror.Conflict(apperror.GuardStationExists, "station "+id+" already exists")
}

func activeStatusStrings() []string {
	out := make([]string, 0, len(models.ActiveStatuses))
	for _, st := range models.ActiveStatuses {
		out = append(out, string(st))
	}
	return out
}

func sortByStartDesc(bookings []*models.Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].StartTime.After(bookings[j].StartTime)
	})
}

func sortByCreatedDesc(bookings []*models.Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].CreatedAt.After(bookings[j].CreatedAt)
	})
}
