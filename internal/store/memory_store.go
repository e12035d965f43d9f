package store

import (
	"context"
	"sort"
	"sync"

	"github.com/EpicMandM/evcharge-booking/internal/clock"
	"github.com/EpicMandM/evcharge-booking/internal/models"
)

// MemoryStore keeps everything in process. Records are copied on the way in
// and out so callers never share memory with the ledger.
type MemoryStore struct {
	mu       sync.RWMutex
	clock    clock.Clock
	bookings map[string]*models.Booking
	stations map[string]*models.Station
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryStore{
		clock:    c,
		bookings: make(map[string]*models.Booking),
		stations: make(map[string]*models.Station),
	}
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) CreateBooking(_ context.Context, booking *models.Booking) (string, error) {
	if err := prepareNew(booking, m.clock.Now()); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[booking.ID] = booking.Clone()
	return booking.ID, nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, errBookingNotFound(id)
	}
	return b.Clone(), nil
}

func (m *MemoryStore) SaveBooking(_ context.Context, booking *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[booking.ID]; !ok {
		return errBookingNotFound(booking.ID)
	}
	m.bookings[booking.ID] = booking.Clone()
	return nil
}

func (m *MemoryStore) filter(keep func(*models.Booking) bool) []*models.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	return out
}

func (m *MemoryStore) ListBookings(_ context.Context) ([]*models.Booking, error) {
	out := m.filter(func(*models.Booking) bool { return true })
	sortByCreatedDesc(out)
	return out, nil
}

func (m *MemoryStore) ListBookingsByStation(_ context.Context, stationID string) ([]*models.Booking, error) {
	out := m.filter(func(b *models.Booking) bool { return b.StationID == stationID })
	sortByStartDesc(out)
	return out, nil
}

func (m *MemoryStore) ListBookingsByOwner(_ context.Context, ownerID string) ([]*models.Booking, error) {
	out := m.filter(func(b *models.Booking) bool { return b.OwnerID == ownerID })
	sortByStartDesc(out)
	return out, nil
}

func (m *MemoryStore) CountActiveOverlapping(_ context.Context, stationID string, w models.Window, excludeID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.bookings {
		if b.StationID != stationID || b.ID == excludeID || !b.Status.Active() {
			continue
		}
		if b.Window().Overlaps(w) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListActiveOverlapping(_ context.Context, stationID string, w models.Window) ([]*models.Booking, error) {
	out := m.filter(func(b *models.Booking) bool {
		return b.StationID == stationID && b.Status.Active() && b.Window().Overlaps(w)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemoryStore) HasActiveBookings(_ context.Context, stationID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.StationID == stationID && b.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetStation(_ context.Context, id string) (*models.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stations[id]
	if !ok {
		return nil, errStationNotFound(id)
	}
	return st.Clone(), nil
}

func (m *MemoryStore) CreateStation(_ context.Context, station *models.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[station.ID]; ok {
		return errStationExists(station.ID)
	}
	m.stations[station.ID] = station.Clone()
	return nil
}

func (m *MemoryStore) SaveStation(_ context.Context, station *models.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[station.ID]; !ok {
		return errStationNotFound(station.ID)
	}
	m.stations[station.ID] = station.Clone()
	return nil
}

func (m *MemoryStore) ListStations(_ context.Context) ([]*models.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Station, 0, len(m.stations))
	for _, st := range m.stations {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteStation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[id]; !ok {
		return errStationNotFound(id)
	}
	delete(m.stations, id)
	return nil
}
