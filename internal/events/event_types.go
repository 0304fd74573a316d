package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/brokerauth/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventLoggedIn           EventType = "auth.logged_in"
	EventCacheHit           EventType = "auth.cache_hit"
	EventOTPRequested       EventType = "auth.otp_requested"
	EventTradingTokenIssued EventType = "auth.trading_token_issued"
	EventLoggedOut          EventType = "auth.logged_out"
	EventFailed             EventType = "auth.failed"
)

// AllEventTypes lists every lifecycle event, in escalation order.
var AllEventTypes = []EventType{
	EventLoggedIn,
	EventCacheHit,
	EventOTPRequested,
	EventTradingTokenIssued,
	EventLoggedOut,
	EventFailed,
}

// Event represents an auth lifecycle transition. It never carries token values.
type Event struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	Username  string           `json:"username"`
	State     domain.AuthState `json:"state"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh ID.
func NewEvent(eventType EventType, username string, state domain.AuthState, at time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Username:  username,
		State:     state,
		Timestamp: at,
		Payload:   payload,
	}
}

// OTPRequestedPayload payload.
type OTPRequestedPayload struct {
	Channel domain.OTPChannel `json:"channel"`
}

// TradingTokenIssuedPayload payload.
type TradingTokenIssuedPayload struct {
	Channel   domain.OTPChannel `json:"channel"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// LoggedInPayload payload.
type LoggedInPayload struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Persisted bool       `json:"persisted"`
}

// FailedPayload payload.
type FailedPayload struct {
	Operation string `json:"operation"`
	Code      string `json:"code"`
	Status    int    `json:"status,omitempty"`
}
