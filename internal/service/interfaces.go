package service

import (
	"context"

	"github.com/EpicMandM/evcharge-booking/internal/models"
)

// BookingLedger is the authoritative set of bookings.
type BookingLedger interface {
	CreateBooking(ctx context.Context, booking *models.Booking) (string, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	SaveBooking(ctx context.Context, booking *models.Booking) error
	ListBookings(ctx context.Context) ([]*models.Booking, error)
	ListBookingsByStation(ctx context.Context, stationID string) ([]*models.Booking, error)
	ListBookingsByOwner(ctx context.Context, ownerID string) ([]*models.Booking, error)
	CountActiveOverlapping(ctx context.Context, stationID string, w models.Window, excludeID string) (int, error)
	ListActiveOverlapping(ctx context.Context, stationID string, w models.Window) ([]*models.Booking, error)
	HasActiveBookings(ctx context.Context, stationID string) (bool, error)
}

// StationDirectory abstracts station persistence for testability.
type StationDirectory interface {
	GetStation(ctx context.Context, id string) (*models.Station, error)
	CreateStation(ctx context.Context, station *models.Station) error
	SaveStation(ctx context.Context, station *models.Station) error
	ListStations(ctx context.Context) ([]*models.Station, error)
	DeleteStation(ctx context.Context, id string) error
}

// Locker serializes work per key. The returned func releases the key.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// TokenGenerator issues session tokens.
type TokenGenerator func() (string, error)
