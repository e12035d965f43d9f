package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusApproved   Status = "Approved"
	StatusRejected   Status = "Rejected"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

// AllStatuses lists every valid status.
var AllStatuses = []Status{
	StatusPending,
	StatusApproved,
	StatusRejected,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
}

// ActiveStatuses count against station capacity.
var ActiveStatuses = []Status{StatusPending, StatusApproved, StatusInProgress}

// ParseStatus converts s into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Active reports whether s counts against capacity.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusApproved, StatusInProgress:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Booking is a time-boxed reservation of one slot at a station.
type Booking struct {
	ID            string    `json:"id" bson:"_id"`
	OwnerID       string    `json:"ownerId" bson:"ownerId"`
	StationID     string    `json:"stationId" bson:"stationId"`
	StartTime     time.Time `json:"startTimeUtc" bson:"startTimeUtc"`
	EndTime       time.Time `json:"endTimeUtc" bson:"endTimeUtc"`
	Status        Status    `json:"status" bson:"status"`
	SessionToken  string    `json:"qrCode,omitempty" bson:"qrCode,omitempty"`
	RejectionNote string    `json:"rejectionReason,omitempty" bson:"rejectionReason,omitempty"`
	CreatedAt     time.Time `json:"createdUtc" bson:"createdUtc"`
	UpdatedAt     time.Time `json:"updatedUtc" bson:"updatedUtc"`
}

// Window returns the booking's time window.
func (b *Booking) Window() Window {
	return Window{Start: b.StartTime, End: b.EndTime}
}

// Clone returns a copy that shares no mutable state with b.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}
