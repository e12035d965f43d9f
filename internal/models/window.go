package models

import "time"

// Window is the half-open interval [Start, End) in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow normalizes both bounds to UTC.
func NewWindow(start, end time.Time) Window {
	return Window{Start: start.UTC(), End: end.UTC()}
}

// Valid reports whether End is strictly after Start.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Duration of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// ExceedsDuration reports whether the window is longer than max.
// A non-positive max disables the cap.
func (w Window) ExceedsDuration(max time.Duration) bool {
	return max > 0 && w.Duration() > max
}

// WithinAdvanceLimit reports whether Start is no later than now+limit.
func (w Window) WithinAdvanceLimit(now time.Time, limit time.Duration) bool {
	return !w.Start.After(now.Add(limit))
}

// HasLeadTime reports whether at least lead remains between now and Start.
func (w Window) HasLeadTime(now time.Time, lead time.Duration) bool {
	return w.Start.Sub(now) >= lead
}

// Overlaps reports whether w and o share any instant. Touching endpoints do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && w.End.After(o.Start)
}

// Contains reports whether t lies inside [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
