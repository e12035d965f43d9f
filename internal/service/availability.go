package service

import (
	"iter"
	"strings"
	"time"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/models"
)

const (
	// SlotsPerDay is the number of grid entries in one local day.
	SlotsPerDay  = 48
	slotLength   = 30 * time.Minute
	maxOffsetMin = 24 * 60
	dateLayout   = "2006-01-02"
)

var dateLayouts = []string{"2006-01-02", "2006.01.02", "2006/01/02"}

// GridSlot is one 30-minute entry of the availability grid.
type GridSlot struct {
	Time           string `json:"time"`
	AvailableSlots int    `json:"availableSlots"`
}

// Availability is the grid for one station and local day.
type Availability struct {
	StationID     string
	Date          string
	OffsetMinutes int
	Capacity      int
	Slots         iter.Seq[GridSlot]
}

// ParseLocalDate reads YYYY-MM-DD with '-', '.' or '/' as the separator and
// returns local midnight expressed as a UTC wall time.
func ParseLocalDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperror.Validation(apperror.GuardDateFormat, "date must be YYYY-MM-DD")
}

func validateOffset(offsetMinutes int) error {
	if offsetMinutes <= -maxOffsetMin || offsetMinutes >= maxOffsetMin {
		return apperror.Validation(apperror.GuardOffset, "tzOffsetMinutes must be within one day")
	}
	return nil
}

// DayWindow converts a local day to absolute bounds: absolute = local - offset.
func DayWindow(day time.Time, offsetMinutes int) models.Window {
	start := day.Add(-time.Duration(offsetMinutes) * time.Minute)
	return models.NewWindow(start, start.Add(SlotsPerDay*slotLength))
}

// BuildGrid projects active bookings onto the 48 half-hour slots of day.
// The sequence is lazy and can be ranged over any number of times.
func BuildGrid(day time.Time, offsetMinutes, capacity int, bookings []*models.Booking) iter.Seq[GridSlot] {
	abs := DayWindow(day, offsetMinutes).Start
	return func(yield func(GridSlot) bool) {
		for i := range SlotsPerDay {
			step := time.Duration(i) * slotLength
			w := models.NewWindow(abs.Add(step), abs.Add(step+slotLength))
			used := 0
			for _, b := range bookings {
				if b.Status.Active() && b.Window().Overlaps(w) {
					used++
				}
			}
			slot := GridSlot{
				Time:           day.Add(step).Format("15:04"),
				AvailableSlots: max(0, capacity-used),
			}
			if !yield(slot) {
				return
			}
		}
	}
}
