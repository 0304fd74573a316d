package domain

import (
	"errors"
	"time"
)

var (
	// ErrNoBaseToken is returned when a trading token is attached to a record without a base token.
	ErrNoBaseToken = errors.New("trading token requires a base token")
	// ErrMissingUsername is returned for records without an owner.
	ErrMissingUsername = errors.New("token record has no username")
	// ErrExpiryBeforeCreation is returned when expires_at precedes created_at.
	ErrExpiryBeforeCreation = errors.New("token record expires before it was created")
)

// TokenRecord is the authentication state held for one brokerage username.
type TokenRecord struct {
	Token        string     `json:"token"`
	TradingToken string     `json:"trading_token,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Username     string     `json:"username"`
}

// NewTokenRecord builds a record for a fresh login. A non-positive ttl yields a
// record that never expires.
func NewTokenRecord(username, token string, now time.Time, ttl time.Duration) *TokenRecord {
	now = normalizeTime(now)
	record := &TokenRecord{
		Token:     token,
		CreatedAt: now,
		Username:  username,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		record.ExpiresAt = &expiresAt
	}
	return record
}

// IsValidAt reports whether the record is usable at the given instant.
// A record expiring exactly at now is already invalid.
func (r *TokenRecord) IsValidAt(now time.Time) bool {
	if r == nil {
		return false
	}
	if r.ExpiresAt == nil {
		return true
	}
	return r.ExpiresAt.After(now)
}

// IsValid reports whether the record is usable right now.
func (r *TokenRecord) IsValid() bool {
	return r.IsValidAt(time.Now())
}

// Remaining returns the validity left at now, clamped at zero. The boolean is
// false when the record never expires.
func (r *TokenRecord) Remaining(now time.Time) (time.Duration, bool) {
	if r == nil || r.ExpiresAt == nil {
		return 0, false
	}
	left := r.ExpiresAt.Sub(now)
	if left < 0 {
		left = 0
	}
	return left, true
}

// HasBaseToken reports whether a login token is present.
func (r *TokenRecord) HasBaseToken() bool {
	return r != nil && r.Token != ""
}

// HasTradingToken reports whether an OTP exchange has succeeded for this record.
func (r *TokenRecord) HasTradingToken() bool {
	return r != nil && r.Token != "" && r.TradingToken != ""
}

// AttachTradingToken stores the trading token in place.
func (r *TokenRecord) AttachTradingToken(tradingToken string) error {
	if r.Token == "" {
		return ErrNoBaseToken
	}
	r.TradingToken = tradingToken
	return nil
}

// Validate checks the record invariants.
func (r *TokenRecord) Validate() error {
	if r.Username == "" {
		return ErrMissingUsername
	}
	if r.TradingToken != "" && r.Token == "" {
		return ErrNoBaseToken
	}
	if r.ExpiresAt != nil && r.ExpiresAt.Before(r.CreatedAt) {
		return ErrExpiryBeforeCreation
	}
	return nil
}

// Clone returns a deep copy.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.ExpiresAt != nil {
		expiresAt := *r.ExpiresAt
		out.ExpiresAt = &expiresAt
	}
	return &out
}

// normalizeTime drops the monotonic reading and location so that records compare
// equal after a trip through any storage backend.
func normalizeTime(t time.Time) time.Time {
	return t.Round(0).UTC()
}
