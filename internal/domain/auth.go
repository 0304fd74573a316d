package domain

import "fmt"

// AuthState is the escalation state of an authenticator.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateBaseAuthenticated
	// StateOTPRequested is a caller-visible hint; it is never persisted.
	StateOTPRequested
	StateFullyAuthenticated
	StateLoggedOut
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateBaseAuthenticated:
		return "BASE_AUTHENTICATED"
	case StateOTPRequested:
		return "OTP_REQUESTED"
	case StateFullyAuthenticated:
		return "FULLY_AUTHENTICATED"
	case StateLoggedOut:
		return "LOGGED_OUT"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON payloads.
func (s AuthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AuthState) UnmarshalText(text []byte) error {
	for candidate := StateUnauthenticated; candidate <= StateLoggedOut; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown auth state %q", text)
}

// OTPChannel selects how the one-time passcode reaches the user.
type OTPChannel string

const (
	OTPChannelEmail OTPChannel = "email"
	OTPChannelSmart OTPChannel = "smart"
)

// HeaderName is the request header carrying the passcode on the exchange call.
func (c OTPChannel) HeaderName() string {
	if c == OTPChannelSmart {
		return "smart-otp"
	}
	return "otp"
}

// ParseOTPChannel maps user input to a channel; empty input selects email.
func ParseOTPChannel(raw string) (OTPChannel, error) {
	switch OTPChannel(raw) {
	case "", OTPChannelEmail:
		return OTPChannelEmail, nil
	case OTPChannelSmart:
		return OTPChannelSmart, nil
	default:
		return "", fmt.Errorf("unknown otp channel %q", raw)
	}
}

// Credential is a transient username/password pair. It is never persisted.
type Credential struct {
	Username string
	Password string
}

func (c Credential) String() string {
	return fmt.Sprintf("Credential{Username: %q, Password: <redacted>}", c.Username)
}
