package core

import "time"

// RateWindow captures the fixed-window counter for one client.
type RateWindow struct {
	ClientID     string    `json:"client_id"`
	RequestCount int       `json:"request_count"`
	WindowStart  time.Time `json:"window_start"`
	LastSeen     time.Time `json:"last_seen"`
	// Blocked is set when the client's last request was denied.
	Blocked bool `json:"blocked,omitempty"`
}

// WindowPolicy bounds requests per client within one window.
type WindowPolicy struct {
	Limit  int
	Window time.Duration
}

// DefaultWindowPolicy allows ten requests per minute.
var DefaultWindowPolicy = WindowPolicy{Limit: 10, Window: time.Minute}

// Advance applies one request at now to the current window (nil when the
// client has not been seen) and returns the next window and the decision.
// A denied request leaves the counter and window start untouched and marks the
// window blocked; an allowed one clears the mark.
func (p WindowPolicy) Advance(current *RateWindow, clientID string, now time.Time) (RateWindow, bool) {
	if current == nil || now.Sub(current.WindowStart) >= p.Window {
		return RateWindow{ClientID: clientID, RequestCount: 1, WindowStart: now, LastSeen: now}, true
	}

	next := *current
	next.LastSeen = now
	if next.RequestCount >= p.Limit {
		next.Blocked = true
		return next, false
	}
	next.Blocked = false
	next.RequestCount++
	return next, true
}
