package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/broker"
	"github.com/spec-kit/brokerauth/internal/domain"
	"github.com/spec-kit/brokerauth/internal/events"
	"github.com/spec-kit/brokerauth/internal/repository"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// AuthenticatorOptions wires an Authenticator to its collaborators.
type AuthenticatorOptions struct {
	Transport broker.Transport
	Store     repository.TokenStore
	Paths     broker.ResponsePaths
	// TokenExpiry bounds the base token lifetime. Zero means the token never expires locally.
	TokenExpiry time.Duration
	// RefreshThreshold is the default window for NeedsRefresh.
	RefreshThreshold time.Duration
	// PersistenceOptional keeps an in-memory session when the store rejects a write.
	PersistenceOptional bool
	Events              events.Dispatcher
	Logger              *zap.Logger
	Now                 func() time.Time
}

// Status is a read-only snapshot of an Authenticator.
type Status struct {
	Username         string           `json:"username,omitempty"`
	State            domain.AuthState `json:"state"`
	HasBaseToken     bool             `json:"has_base_token"`
	HasTradingToken  bool             `json:"has_trading_token"`
	FullyCapable     bool             `json:"fully_capable"`
	CreatedAt        *time.Time       `json:"created_at,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	RemainingSeconds int64            `json:"remaining_seconds,omitempty"`
	NeedsRefresh     bool             `json:"needs_refresh"`
}

// Authenticator runs the two-stage escalation against the brokerage and mirrors
// the resulting token record to a TokenStore. It owns exactly one in-memory
// record at a time.
type Authenticator struct {
	transport       broker.Transport
	store           repository.TokenStore
	paths           broker.ResponsePaths
	expiry          time.Duration
	threshold       time.Duration
	persistOptional bool
	dispatcher      events.Dispatcher
	logger          *zap.Logger
	now             func() time.Time

	mu       sync.Mutex
	state    domain.AuthState
	username string
	record   *domain.TokenRecord

	closeOnce sync.Once
	closeErr  error
}

// NewAuthenticator builds an Authenticator in the Unauthenticated state.
func NewAuthenticator(opts AuthenticatorOptions) (*Authenticator, error) {
	if opts.Transport == nil {
		return nil, errors.New("authenticator: transport is required")
	}
	if opts.Store == nil {
		return nil, errors.New("authenticator: token store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := opts.Events
	if dispatcher == nil {
		dispatcher = events.NopDispatcher()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Authenticator{
		transport:       opts.Transport,
		store:           opts.Store,
		paths:           opts.Paths.WithDefaults(),
		expiry:          opts.TokenExpiry,
		threshold:       opts.RefreshThreshold,
		persistOptional: opts.PersistenceOptional,
		dispatcher:      dispatcher,
		logger:          logger.With(zap.String("component", "authenticator")),
		now:             now,
		state:           domain.StateUnauthenticated,
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Authenticate logs in with a username and password. On success the new base
// record is held in memory and persisted. On failure nothing is persisted and
// the authenticator is left Unauthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, cred domain.Credential) error {
	if cred.Username == "" || cred.Password == "" {
		return apperrors.NewValidationError("username and password are required", nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	log := a.logger.With(zap.String("username", cred.Username))
	a.clearLocked(domain.StateUnauthenticated)

	req := broker.Request{
		Method: http.MethodPost,
		Path:   broker.PathLogin,
		Body:   loginRequest{Username: cred.Username, Password: cred.Password},
	}
	resp, err := a.transport.Do(ctx, req)
	if err != nil {
		return a.failLocked(ctx, "login", cred.Username, err)
	}
	if !resp.OK() {
		return a.failLocked(ctx, "login", cred.Username, broker.StatusError(req, resp))
	}
	token, err := broker.ExtractString(resp.Body, a.paths.Token)
	if err != nil {
		log.Warn("login response carried no token", zap.Error(err))
		return a.failLocked(ctx, "login", cred.Username,
			apperrors.NewProtocolError("no token received", resp.StatusCode, resp.Body))
	}
	if err := ctx.Err(); err != nil {
		return a.failLocked(ctx, "login", cred.Username,
			apperrors.NewTransportError("login cancelled", 0, nil, err))
	}

	record := domain.NewTokenRecord(cred.Username, token, a.now(), a.expiry)
	a.username = cred.Username
	a.record = record
	a.state = domain.StateBaseAuthenticated
	log.Info("brokerage login succeeded", zap.Timep("expires_at", record.ExpiresAt))

	persisted, err := a.persistLocked(ctx)
	a.publish(ctx, events.EventLoggedIn, events.LoggedInPayload{ExpiresAt: record.ExpiresAt, Persisted: persisted})
	return err
}

// SendOTP asks the brokerage to deliver a one-time passcode. The email channel
// triggers a remote dispatch; smart-OTP codes come from the authenticator app,
// so nothing is sent. Requires a valid base token.
func (a *Authenticator) SendOTP(ctx context.Context, channel domain.OTPChannel) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireBaseLocked("send otp"); err != nil {
		return err
	}
	log := a.logger.With(zap.String("username", a.username), zap.String("channel", string(channel)))

	switch channel {
	case domain.OTPChannelEmail:
		req := broker.Request{
			Method:  http.MethodGet,
			Path:    broker.PathEmailOTP,
			Headers: broker.BearerHeaders(a.record.Token),
		}
		resp, err := a.transport.Do(ctx, req)
		if err != nil {
			return a.reportLocked(ctx, "send_otp", err)
		}
		if !resp.OK() {
			return a.reportLocked(ctx, "send_otp", broker.StatusError(req, resp))
		}
		log.Info("email otp dispatched")
	case domain.OTPChannelSmart:
		log.Info("smart otp selected; read the code from the authenticator app")
	default:
		return apperrors.NewValidationError("unknown otp channel", map[string]any{"channel": string(channel)})
	}

	if a.state == domain.StateBaseAuthenticated {
		a.state = domain.StateOTPRequested
	}
	a.publish(ctx, events.EventOTPRequested, events.OTPRequestedPayload{Channel: channel})
	return nil
}

// CompleteAuth exchanges the base token and otp for a trading token. On
// failure the base record is left untouched.
func (a *Authenticator) CompleteAuth(ctx context.Context, otp string, channel domain.OTPChannel) error {
	if otp == "" {
		return apperrors.NewValidationError("otp is required", nil)
	}
	if channel != domain.OTPChannelEmail && channel != domain.OTPChannelSmart {
		return apperrors.NewValidationError("unknown otp channel", map[string]any{"channel": string(channel)})
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireBaseLocked("complete authentication"); err != nil {
		return err
	}

	headers := broker.BearerHeaders(a.record.Token)
	headers.Set(channel.HeaderName(), otp)
	req := broker.Request{
		Method:  http.MethodPost,
		Path:    broker.PathTradingToken,
		Headers: headers,
	}
	resp, err := a.transport.Do(ctx, req)
	if err != nil {
		return a.reportLocked(ctx, "complete_auth", err)
	}
	if !resp.OK() {
		return a.reportLocked(ctx, "complete_auth", broker.StatusError(req, resp))
	}
	tradingToken, err := broker.ExtractString(resp.Body, a.paths.TradingToken)
	if err != nil {
		a.logger.Warn("otp exchange response carried no trading token", zap.String("username", a.username), zap.Error(err))
		return a.reportLocked(ctx, "complete_auth",
			apperrors.NewProtocolError("no trading token received", resp.StatusCode, resp.Body))
	}
	if err := ctx.Err(); err != nil {
		return a.reportLocked(ctx, "complete_auth",
			apperrors.NewTransportError("otp exchange cancelled", 0, nil, err))
	}

	if err := a.record.AttachTradingToken(tradingToken); err != nil {
		return apperrors.NewInternalError(err)
	}
	a.state = domain.StateFullyAuthenticated
	a.logger.Info("trading token issued", zap.String("username", a.username), zap.String("channel", string(channel)))

	_, err = a.persistLocked(ctx)
	a.publish(ctx, events.EventTradingTokenIssued, events.TradingTokenIssuedPayload{
		Channel:   channel,
		ExpiresAt: a.record.ExpiresAt,
	})
	return err
}

// LoadCached adopts a stored record for username when one is present and valid.
// Otherwise any stale durable record is removed and false is returned. The
// error is only non-nil when the store has been released.
func (a *Authenticator) LoadCached(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, apperrors.NewValidationError("username is required", nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	log := a.logger.With(zap.String("username", username))
	record, err := a.store.Load(ctx, username)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeStorageClosed) {
			return false, err
		}
		log.Warn("token store read failed; treating as cache miss", zap.Error(err))
		record = nil
	}

	if record != nil && record.HasBaseToken() && record.IsValidAt(a.now()) {
		a.username = username
		a.record = record
		a.state = domain.StateBaseAuthenticated
		if record.HasTradingToken() {
			a.state = domain.StateFullyAuthenticated
		}
		log.Info("adopted cached token record", zap.Stringer("state", a.state), zap.Timep("expires_at", record.ExpiresAt))
		a.publish(ctx, events.EventCacheHit, nil)
		return true, nil
	}

	if err := a.store.Delete(ctx, username); err != nil {
		if apperrors.IsCode(err, apperrors.CodeStorageClosed) {
			return false, err
		}
		log.Warn("failed to purge stale token record", zap.Error(err))
	}
	a.clearLocked(domain.StateUnauthenticated)
	log.Debug("no usable cached token record")
	return false, nil
}

// NeedsRefresh reports whether the held record is missing, expired or expires
// within threshold. A non-positive threshold uses the configured default.
// The brokerage has no refresh endpoint, so a true result means log in again.
func (a *Authenticator) NeedsRefresh(threshold time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.needsRefreshLocked(threshold, a.now())
}

func (a *Authenticator) needsRefreshLocked(threshold time.Duration, now time.Time) bool {
	if threshold <= 0 {
		threshold = a.threshold
	}
	if !a.record.HasBaseToken() || !a.record.IsValidAt(now) {
		return true
	}
	remaining, expires := a.record.Remaining(now)
	if !expires {
		return false
	}
	return remaining < threshold
}

// Logout removes the durable record for username and clears memory. It is
// idempotent; the in-memory record is cleared even when the delete fails.
func (a *Authenticator) Logout(ctx context.Context, username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if username == "" {
		username = a.username
	}
	var err error
	if username != "" {
		err = a.store.Delete(ctx, username)
		if err != nil {
			a.logger.Warn("failed to delete token record on logout", zap.String("username", username), zap.Error(err))
		}
	}
	a.clearLocked(domain.StateLoggedOut)
	a.username = username
	a.logger.Info("logged out", zap.String("username", username))
	a.publish(ctx, events.EventLoggedOut, nil)
	return err
}

// Close releases the transport and the token store once.
func (a *Authenticator) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = errors.Join(a.transport.Close(), a.store.Close())
	})
	return a.closeErr
}

// HasBaseToken reports whether a base token is held and still valid.
func (a *Authenticator) HasBaseToken() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasValidBaseLocked(a.now())
}

// HasTradingToken reports whether a trading token is held.
func (a *Authenticator) HasTradingToken() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record.HasTradingToken()
}

// IsFullyCapable reports whether both tokens are held and the base token is valid.
func (a *Authenticator) IsFullyCapable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fullyCapableLocked(a.now())
}

// State returns the effective state. A held record that has expired reports
// Unauthenticated.
func (a *Authenticator) State() domain.AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.effectiveStateLocked(a.now())
}

// Username returns the identity of the held or last record.
func (a *Authenticator) Username() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.username
}

// Record returns a copy of the in-memory record, or nil.
func (a *Authenticator) Record() *domain.TokenRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record.Clone()
}

// Status returns a snapshot safe to expose; it never includes token values.
func (a *Authenticator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	st := Status{
		Username:        a.username,
		State:           a.effectiveStateLocked(now),
		HasBaseToken:    a.hasValidBaseLocked(now),
		HasTradingToken: a.record.HasTradingToken(),
		FullyCapable:    a.fullyCapableLocked(now),
		NeedsRefresh:    a.needsRefreshLocked(0, now),
	}
	if a.record != nil {
		createdAt := a.record.CreatedAt
		st.CreatedAt = &createdAt
		st.ExpiresAt = a.record.Clone().ExpiresAt
		if remaining, ok := a.record.Remaining(now); ok {
			st.RemainingSeconds = int64(remaining / time.Second)
		}
	}
	return st
}

// tokens returns the held tokens for building gated clients.
func (a *Authenticator) tokens() (token, tradingToken string, state domain.AuthState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	state = a.effectiveStateLocked(now)
	if !a.hasValidBaseLocked(now) {
		return "", "", state
	}
	return a.record.Token, a.record.TradingToken, state
}

func (a *Authenticator) hasValidBaseLocked(now time.Time) bool {
	return a.record.HasBaseToken() && a.record.IsValidAt(now)
}

func (a *Authenticator) fullyCapableLocked(now time.Time) bool {
	return a.hasValidBaseLocked(now) && a.record.HasTradingToken()
}

func (a *Authenticator) effectiveStateLocked(now time.Time) domain.AuthState {
	switch a.state {
	case domain.StateBaseAuthenticated, domain.StateOTPRequested, domain.StateFullyAuthenticated:
		if !a.hasValidBaseLocked(now) {
			return domain.StateUnauthenticated
		}
	}
	return a.state
}

func (a *Authenticator) requireBaseLocked(operation string) error {
	switch a.effectiveStateLocked(a.now()) {
	case domain.StateBaseAuthenticated, domain.StateOTPRequested, domain.StateFullyAuthenticated:
		return nil
	}
	return apperrors.NewCapabilityError(operation + " requires a valid base token")
}

func (a *Authenticator) clearLocked(state domain.AuthState) {
	a.record = nil
	a.username = ""
	a.state = state
}

// persistLocked saves the held record. With PersistenceOptional a failed write
// is logged and the session continues in memory only.
func (a *Authenticator) persistLocked(ctx context.Context) (bool, error) {
	err := a.store.Save(ctx, a.username, a.record)
	if err == nil {
		return true, nil
	}
	if !apperrors.IsCode(err, apperrors.CodeStorageWrite) && !apperrors.IsCode(err, apperrors.CodeStorageClosed) {
		err = apperrors.NewStorageWriteError(err)
	}
	if a.persistOptional {
		a.logger.Warn("token record not persisted; continuing in memory", zap.String("username", a.username), zap.Error(err))
		return false, nil
	}
	a.logger.Error("token record not persisted", zap.String("username", a.username), zap.Error(err))
	return false, err
}

// failLocked reports a failed login and leaves the authenticator Unauthenticated.
func (a *Authenticator) failLocked(ctx context.Context, operation, username string, err error) error {
	a.clearLocked(domain.StateUnauthenticated)
	a.username = username
	return a.reportLocked(ctx, operation, err)
}

func (a *Authenticator) reportLocked(ctx context.Context, operation string, err error) error {
	domainErr := apperrors.ToDomainError(err)
	a.logger.Warn("brokerage authentication step failed",
		zap.String("operation", operation),
		zap.String("username", a.username),
		zap.String("code", domainErr.Code),
		zap.Int("status", domainErr.StatusCode),
		zap.Error(err),
	)
	a.publish(ctx, events.EventFailed, events.FailedPayload{
		Operation: operation,
		Code:      domainErr.Code,
		Status:    domainErr.StatusCode,
	})
	return err
}

func (a *Authenticator) publish(ctx context.Context, eventType events.EventType, payload any) {
	event := events.NewEvent(eventType, a.username, a.state, a.now(), payload)
	if err := a.dispatcher.Publish(context.WithoutCancel(ctx), event); err != nil {
		a.logger.Warn("event handler failed", zap.String("event", string(eventType)), zap.Error(err))
	}
}
