package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/clock"
	"github.com/EpicMandM/evcharge-booking/internal/models"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewSQLiteStore(path string, c clock.Clock) (*SQLiteStore, error) {
	dbPath, err := resolveDBPath(path)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = clock.Real{}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := initSchema(db); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}

	return &SQLiteStore{db: db, clock: c}, nil
}

func resolveDBPath(path string) (string, error) {
	abs := filepath.Clean(path)
	if strings.HasSuffix(abs, ".db") {
		if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
			return "", err
		}
		return abs, nil
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return "", err
	}
	return filepath.Join(abs, "evcharge.db"), nil
}

// Times are stored as unix nanoseconds so range predicates compare numerically.
func initSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA foreign_keys = ON;",
		"CREATE TABLE IF NOT EXISTS stations (id TEXT PRIMARY KEY, data BLOB NOT NULL);",
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			station_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			start_ns INTEGER NOT NULL,
			end_ns INTEGER NOT NULL,
			created_ns INTEGER NOT NULL,
			data BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_bookings_station_time ON bookings(station_id, start_ns, end_ns);",
		"CREATE INDEX IF NOT EXISTS idx_bookings_owner ON bookings(owner_id, start_ns);",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateBooking(ctx context.Context, booking *models.Booking) (string, error) {
	if err := prepareNew(booking, s.clock.Now()); err != nil {
		return "", err
	}
	data, err := json.Marshal(booking)
	if err != nil {
		return "", apperror.Store("encode booking", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO bookings (id, station_id, owner_id, status, start_ns, end_ns, created_ns, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID, booking.StationID, booking.OwnerID, string(booking.Status),
		booking.StartTime.UnixNano(), booking.EndTime.UnixNano(), booking.CreatedAt.UnixNano(), data)
	if err != nil {
		return "", apperror.Store("insert booking", err)
	}
	return booking.ID, nil
}

func (s *SQLiteStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM bookings WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errBookingNotFound(id)
	}
	if err != nil {
		return nil, apperror.Store("get booking", err)
	}
	return decodeBooking(raw)
}

func (s *SQLiteStore) SaveBooking(ctx context.Context, booking *models.Booking) error {
	data, err := json.Marshal(booking)
	if err != nil {
		return apperror.Store("encode booking", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE bookings
		SET station_id = ?, owner_id = ?, status = ?, start_ns = ?, end_ns = ?, data = ?
		WHERE id = ?`,
		booking.StationID, booking.OwnerID, string(booking.Status),
		booking.StartTime.UTC().UnixNano(), booking.EndTime.UTC().UnixNano(), data, booking.ID)
	if err != nil {
		return apperror.Store("update booking", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.Store("update booking", err)
	}
	if n == 0 {
		return errBookingNotFound(booking.ID)
	}
	return nil
}

func (s *SQLiteStore) ListBookings(ctx context.Context) ([]*models.Booking, error) {
	return s.queryBookings(ctx, `SELECT data FROM bookings ORDER BY created_ns DESC`)
}

func (s *SQLiteStore) ListBookingsByStation(ctx context.Context, stationID string) ([]*models.Booking, error) {
	return s.queryBookings(ctx, `SELECT data FROM bookings WHERE station_id = ? ORDER BY start_ns DESC`, stationID)
}

func (s *SQLiteStore) ListBookingsByOwner(ctx context.Context, ownerID string) ([]*models.Booking, error) {
	return s.queryBookings(ctx, `SELECT data FROM bookings WHERE owner_id = ? ORDER BY start_ns DESC`, ownerID)
}

const activeFilter = `status IN ('Pending', 'Approved', 'InProgress')`

func (s *SQLiteStore) CountActiveOverlapping(ctx context.Context, stationID string, w models.Window, excludeID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings
		WHERE station_id = ? AND id <> ? AND `+activeFilter+` AND start_ns < ? AND end_ns > ?`,
		stationID, excludeID, w.End.UTC().UnixNano(), w.Start.UTC().UnixNano()).Scan(&n)
	if err != nil {
		return 0, apperror.Store("count overlapping bookings", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListActiveOverlapping(ctx context.Context, stationID string, w models.Window) ([]*models.Booking, error) {
	return s.queryBookings(ctx, `SELECT data FROM bookings
		WHERE station_id = ? AND `+activeFilter+` AND start_ns < ? AND end_ns > ?
		ORDER BY start_ns`,
		stationID, w.End.UTC().UnixNano(), w.Start.UTC().UnixNano())
}

func (s *SQLiteStore) HasActiveBookings(ctx context.Context, stationID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE station_id = ? AND `+activeFilter+` LIMIT 1`, stationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperror.Store("check active bookings", err)
	}
	return true, nil
}

func (s *SQLiteStore) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperror.Store("query bookings", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var bookings []*models.Booking
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperror.Store("scan booking", err)
		}
		b, err := decodeBooking(raw)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Store("query bookings", err)
	}
	return bookings, nil
}

func decodeBooking(raw []byte) (*models.Booking, error) {
	var b models.Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, apperror.Store("decode booking", err)
	}
	b.StartTime = b.StartTime.UTC()
	b.EndTime = b.EndTime.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func (s *SQLiteStore) GetStation(ctx context.Context, id string) (*models.Station, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM stations WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errStationNotFound(id)
	}
	if err != nil {
		return nil, apperror.Store("get station", err)
	}
	var st models.Station
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, apperror.Store("decode station", err)
	}
	return &st, nil
}

func (s *SQLiteStore) CreateStation(ctx context.Context, station *models.Station) error {
	data, err := json.Marshal(station)
	if err != nil {
		return apperror.Store("encode station", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO stations (id, data) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`, station.ID, data)
	if err != nil {
		return apperror.Store("insert station", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errStationExists(station.ID)
	}
	return nil
}

func (s *SQLiteStore) SaveStation(ctx context.Context, station *models.Station) error {
	data, err := json.Marshal(station)
	if err != nil {
		return apperror.Store("encode station", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE stations SET data = ? WHERE id = ?`, data, station.ID)
	if err != nil {
		return apperror.Store("update station", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errStationNotFound(station.ID)
	}
	return nil
}

func (s *SQLiteStore) ListStations(ctx context.Context) ([]*models.Station, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM stations ORDER BY id`)
	if err != nil {
		return nil, apperror.Store("list stations", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var stations []*models.Station
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperror.Store("scan station", err)
		}
		var st models.Station
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, apperror.Store("decode station", err)
		}
		stations = append(stations, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Store("list stations", err)
	}
	return stations, nil
}

func (s *SQLiteStore) DeleteStation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stations WHERE id = ?`, id)
	if err != nil {
		return apperror.Store("delete station", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errStationNotFound(id)
	}
	return nil
}
