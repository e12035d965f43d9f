package service

import (
	"context"
	"fmt"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/models"
)

// OverlapCounter is the one ledger query admission needs.
type OverlapCounter interface {
	CountActiveOverlapping(ctx context.Context, stationID string, w models.Window, excludeID string) (int, error)
}

// Admission is the outcome of a capacity check.
type Admission struct {
	Admitted    bool
	Overlapping int
	Capacity    int
}

// CapacityResolver admits a window iff fewer than capacity active bookings overlap it.
type CapacityResolver struct {
	ledger OverlapCounter
}

func NewCapacityResolver(ledger OverlapCounter) CapacityResolver {
	return CapacityResolver{ledger: ledger}
}

// Admit counts active bookings on stationID overlapping w, skipping excludeID.
func (r CapacityResolver) Admit(ctx context.Context, stationID string, w models.Window, capacity int, excludeID string) (Admission, error) {
	n, err := r.ledger.CountActiveOverlapping(ctx, stationID, w, excludeID)
	if err != nil {
		return Admission{}, err
	}
	return Admission{Admitted: n < capacity, Overlapping: n, Capacity: capacity}, nil
}

// Require is Admit with a rejection turned into a capacity conflict.
func (r CapacityResolver) Require(ctx context.Context, stationID string, w models.Window, capacity int, excludeID string) error {
	a, err := r.Admit(ctx, stationID, w, capacity, excludeID)
	if err != nil {
		return err
	}
	if !a.Admitted {
		return apperror.Conflict(apperror.GuardCapacity,
			fmt.Sprintf("no slots available (%d of %d in use)", a.Overlapping, a.Capacity))
	}
	return nil
}
