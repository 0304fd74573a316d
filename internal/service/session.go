package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/broker"
	"github.com/spec-kit/brokerauth/internal/domain"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// SessionOptions configures OpenSession.
type SessionOptions struct {
	AuthenticatorOptions
	// Username, when set, is used to adopt a cached record on open.
	Username string
}

// Session owns one Authenticator for a scope and hands out brokerage clients
// only when the matching token tier is held.
type Session struct {
	auth      *Authenticator
	transport broker.Transport
	logger    *zap.Logger
}

// OpenSession builds a session and, when opts.Username is set, tries to resume
// from the token store. The caller must Close the session.
func OpenSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	auth, err := NewAuthenticator(opts.AuthenticatorOptions)
	if err != nil {
		return nil, err
	}
	s := &Session{auth: auth, transport: opts.Transport, logger: auth.logger.With(zap.String("scope", "session"))}
	if opts.Username != "" {
		if _, err := auth.LoadCached(ctx, opts.Username); err != nil {
			return nil, errors.Join(err, auth.Close())
		}
	}
	return s, nil
}

// WithSession opens a session, runs fn and releases the session on every exit
// path. A panic in fn is re-raised after release.
func WithSession(ctx context.Context, opts SessionOptions, fn func(*Session) error) (err error) {
	s, err := OpenSession(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := s.Close()
		if r := recover(); r != nil {
			if closeErr != nil {
				s.logger.Error("session release failed during panic", zap.Error(closeErr))
			}
			panic(r)
		}
		if closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	return fn(s)
}

// Login resumes a cached record for cred.Username and falls back to a fresh
// brokerage login. It reports whether the cache was used.
func (s *Session) Login(ctx context.Context, cred domain.Credential) (bool, error) {
	if cred.Username == "" {
		return false, apperrors.NewValidationError("username is required", nil)
	}
	cached, err := s.auth.LoadCached(ctx, cred.Username)
	if err != nil {
		return false, err
	}
	if cached {
		return true, nil
	}
	return false, s.auth.Authenticate(ctx, cred)
}

func (s *Session) SendOTP(ctx context.Context, channel domain.OTPChannel) error {
	return s.auth.SendOTP(ctx, channel)
}

func (s *Session) CompleteAuth(ctx context.Context, otp string, channel domain.OTPChannel) error {
	return s.auth.CompleteAuth(ctx, otp, channel)
}

func (s *Session) Logout(ctx context.Context) error {
	return s.auth.Logout(ctx, "")
}

func (s *Session) Status() Status {
	return s.auth.Status()
}

// Authenticator exposes the underlying state machine.
func (s *Session) Authenticator() *Authenticator {
	return s.auth
}

// UsersClient returns a client for read-only profile calls. It fails with a
// capability error unless a valid base token is held.
func (s *Session) UsersClient() (*broker.UsersClient, error) {
	token, _, state := s.auth.tokens()
	if token == "" {
		return nil, apperrors.NewCapabilityError("profile access requires login (state " + state.String() + ")")
	}
	return broker.NewUsersClient(s.transport, token, s.logger)
}

// OrdersClient returns a client for order placement. It fails with a
// capability error unless both tokens are held and the base token is valid.
func (s *Session) OrdersClient() (*broker.OrdersClient, error) {
	token, tradingToken, state := s.auth.tokens()
	if token == "" || tradingToken == "" {
		return nil, apperrors.NewCapabilityError("order placement requires otp verification (state " + state.String() + ")")
	}
	return broker.NewOrdersClient(s.transport, token, tradingToken, s.logger)
}

// Me fetches the brokerage profile through the base-tier client.
func (s *Session) Me(ctx context.Context) (json.RawMessage, error) {
	client, err := s.UsersClient()
	if err != nil {
		return nil, err
	}
	return client.Me(ctx)
}

// Close releases the transport and token store. Safe to call more than once.
func (s *Session) Close() error {
	return s.auth.Close()
}
