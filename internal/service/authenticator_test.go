package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/spec-kit/brokerauth/internal/domain"
	"github.com/spec-kit/brokerauth/internal/events"
	"github.com/spec-kit/brokerauth/internal/repository"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

func TestEmailOTPEscalation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	auth := h.authenticator(t)

	if err := auth.Authenticate(ctx, alice()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !auth.HasBaseToken() || auth.HasTradingToken() {
		t.Fatalf("expected base tier only, got %+v", auth.Status())
	}
	if got := auth.State(); got != domain.StateBaseAuthenticated {
		t.Fatalf("state = %s", got)
	}
	stored, err := h.store.Load(ctx, "alice")
	if err != nil || stored == nil || stored.TradingToken != "" {
		t.Fatalf("expected persisted base record, got %+v, %v", stored, err)
	}
	if stored.ExpiresAt == nil || !stored.ExpiresAt.Equal(h.clock.Now().Add(7*time.Hour)) {
		t.Fatalf("expires_at = %v", stored.ExpiresAt)
	}

	if err := auth.SendOTP(ctx, domain.OTPChannelEmail); err != nil {
		t.Fatalf("send otp: %v", err)
	}
	dispatches := h.broker.dispatchHeaders()
	if len(dispatches) != 1 {
		t.Fatalf("dispatches = %d", len(dispatches))
	}
	if dispatches[0].Get("otp") != "" || dispatches[0].Get("Authorization") != "Bearer "+testBaseToken {
		t.Fatalf("unexpected dispatch headers %v", dispatches[0])
	}
	if auth.HasTradingToken() || !auth.HasBaseToken() {
		t.Fatalf("send otp must not change tokens, got %+v", auth.Status())
	}
	if got := auth.State(); got != domain.StateOTPRequested {
		t.Fatalf("state = %s", got)
	}

	if err := auth.CompleteAuth(ctx, testOTP, domain.OTPChannelEmail); err != nil {
		t.Fatalf("complete auth: %v", err)
	}
	exchanges := h.broker.exchangeHeaders()
	if len(exchanges) != 1 || exchanges[0].Get("otp") != testOTP || exchanges[0].Get("smart-otp") != "" {
		t.Fatalf("unexpected exchange headers %v", exchanges)
	}
	record := auth.Record()
	if record.Token != testBaseToken || record.TradingToken != testTradingToken {
		t.Fatalf("unexpected record %+v", record)
	}
	if !auth.IsFullyCapable() || auth.State() != domain.StateFullyAuthenticated {
		t.Fatalf("expected fully capable, got %+v", auth.Status())
	}
	stored, err = h.store.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(record, stored); diff != "" {
		t.Fatalf("durable record differs (-memory +stored):\n%s", diff)
	}

	want := []events.EventType{events.EventLoggedIn, events.EventOTPRequested, events.EventTradingTokenIssued}
	if diff := cmp.Diff(want, h.events.list()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestSmartOTPSkipsDispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	auth := h.authenticator(t)

	if err := auth.Authenticate(ctx, alice()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := auth.SendOTP(ctx, domain.OTPChannelSmart); err != nil {
		t.Fatalf("send otp: %v", err)
	}
	if n := len(h.broker.dispatchHeaders()); n != 0 {
		t.Fatalf("smart otp must not dispatch, got %d calls", n)
	}
	if err := auth.CompleteAuth(ctx, testOTP, domain.OTPChannelSmart); err != nil {
		t.Fatalf("complete auth: %v", err)
	}
	exchanges := h.broker.exchangeHeaders()
	if len(exchanges) != 1 || exchanges[0].Get("smart-otp") != testOTP || exchanges[0].Get("otp") != "" {
		t.Fatalf("unexpected exchange headers %v", exchanges)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	auth := h.authenticator(t)

	err := auth.Authenticate(ctx, domain.Credential{Username: "alice", Password: "nope"})
	if !apperrors.IsCode(err, apperrors.CodeCredential) {
		t.Fatalf("expected credential error, got %v", err)
	}
	domainErr := apperrors.ToDomainError(err)
	if domainErr.StatusCode != 401 || !strings.Contains(string(domainErr.Payload), "invalid credentials") {
		t.Fatalf("expected remote status and payload, got %+v", domainErr)
	}
	if auth.HasBaseToken() || auth.State() != domain.StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %+v", auth.Status())
	}
	stored, err := h.store.Load(ctx, "alice")
	if err != nil || stored != nil {
		t.Fatalf("expected nothing persisted, got %+v, %v", stored, err)
	}
	if diff := cmp.Diff([]events.EventType{events.EventFailed}, h.events.list()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestAuthenticateRequiresCredentials(t *testing.T) {
	h := newHarness(t, nil)
	auth := h.authenticator(t)
	err := auth.Authenticate(context.Background(), domain.Credential{Username: "alice"})
	if !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h.broker.loginCount() != 0 {
		t.Fatal("login must not be attempted without a password")
	}
}

func TestAuthenticateMissingTokenIsProtocolError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.broker.omitToken = true
	auth := h.authenticator(t)

	err := auth.Authenticate(ctx, alice())
	if !apperrors.IsCode(err, apperrors.CodeProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no token received") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if stored, _ := h.store.Load(ctx, "alice"); stored != nil {
		t.Fatalf("expected nothing persisted, got %+v", stored)
	}
}

func TestCompleteAuthRequiresBaseToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	auth := h.authenticator(t)

	err := auth.CompleteAuth(ctx, testOTP, domain.OTPChannelEmail)
	if !apperrors.IsCode(err, apperrors.CodeCapability) {
		t.Fatalf("expected capability error, got %v", err)
	}
	if err := auth.SendOTP(ctx, domain.OTPChannelEmail); !apperrors.IsCode(err, apperrors.CodeCapability) {
		t.Fatalf("expected capability error, got %v", err)
	}
	if n := len(h.broker.exchangeHeaders()); n != 0 {
		t.Fatalf("exchange must not be attempted, got %d calls", n)
	}
	if stored, _ := h.store.Load(ctx, "alice"); stored != nil {
		t.Fatalf("expected nothing persisted, got %+v", stored)
	}
}

func TestCompleteAuthWrongOTPKeepsBaseRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	auth := h.authenticator(t)

	if err := auth.Authenticate(ctx, alice()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	before := auth.Record()
	err := auth.CompleteAuth(ctx, "000000", domain.OTPChannelEmail)
	if !apperrors.IsCode(err, apperrors.CodeCredential) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if diff := cmp.Diff(before, auth.Record()); diff != "" {
		t.Fatalf("base record changed (-before +after):\n%s", diff)
	}
	stored, _ := h.store.Load(ctx, "alice")
	if stored == nil || stored.TradingToken != "" {
		t.Fatalf("expected stored base record without trading token, got %+v", stored)
	}
	if auth.State() != domain.StateBaseAuthenticated {
		t.Fatalf("state = %s", auth.State())
	}
}

func TestCompleteAuthMissingTradingToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.broker.omitTradingToken = true
	auth := h.authenticator(t)

	if err := auth.Authenticate(ctx, alice()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	err := auth.CompleteAuth(ctx, testOTP, domain.OTPChannelEmail)
	if !apperrors.IsCode(err, apperrors.CodeProtocol) || !strings.Contains(err.Error(), "no trading token received") {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if auth.HasTradingToken() {
		t.Fatal("trading token must not be attached")
	}
}

func TestLoadCachedPurgesExpiredRecord(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")
	expired := `{"alice":{"token":"T0","created_at":"2020-01-01T00:00:00Z","expires_at":"2020-01-01T07:00:00Z","username":"alice"}}`
	if err := os.WriteFile(path, []byte(expired), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := newHarness(t, repository.NewFileTokenStore(path, nil))
	auth := h.authenticator(t)

	ok, err := auth.LoadCached(ctx, "alice")
	if err != nil || ok {
		t.Fatalf("expected cache miss, got %v, %v", ok, err)
	}
	if auth.State() != domain.StateUnauthenticated {
		t.Fatalf("state = %s", auth.State())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(content), "alice") {
		t.Fatalf("expired record not purged: %s", content)
	}
	if stored, _ := h.store.Load(ctx, "alice"); stored != nil {
		t.Fatalf("expected absent, got %+v", stored)
	}
}

func TestLoadCachedAdoptsFullRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	record := domain.NewTokenRecord("alice", testBaseToken, h.clock.Now(), 7*time.Hour)
	if err := record.AttachTradingToken(testTradingToken); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := h.store.Save(ctx, "alice", record); err != nil {
		t.Fatalf("save: %v", err)
	}
	auth := h.authenticator(t)

	ok, err := auth.LoadCached(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("expected cache hit, got %v, %v", ok, err)
	}
	if auth.State() != domain.StateFullyAuthenticated || !auth.IsFullyCapable() {
		t.Fatalf("expected fully capable, got %+v", auth.Status())
	}
	if diff := cmp.Diff(record, auth.Record()); diff != "" {
		t.Fatalf("adopted record differs:\n%s", diff)
	}
	if h.broker.loginCount() != 0 {
		t.Fatal("cache hit must not log in")
	}
}

func TestLoadCachedOnClosedStore(t *testing.T) {
	h := newHarness(t, nil)
	auth := h.authenticator(t)
	if err := h.store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err := auth.LoadCached(context.Background(), "alice")
	if !errors.Is(err, repository.ErrStoreClosed) {
		t.Fatalf("expected closed store error, got %v", err)
	}
}

func TestNeedsRefresh(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	auth := h.authenticator(t)

	if !auth.NeedsRefresh(time.Minute) {
		t.Fatal("no record must need refresh")
	}
	if err := auth.Authenticate(ctx, alice()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if auth.NeedsRefresh(0) {
		t.Fatal("fresh record must not need refresh")
	}
	h.clock.Advance(6*time.Hour + 45*time.Minute)
	if !auth.NeedsRefresh(0) {
		t.Fatal("expected refresh inside the default 30m window")
	}
	if auth.NeedsRefresh(10 * time.Minute) {
		t.Fatal("15m left must not need refresh with a 10m threshold")
	}
}

func TestExpiredBaseTokenVoidsTradingToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	auth := h.authenticator(t)

	if err := auth.Authenticate(ctx, alice()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := auth.CompleteAuth(ctx, testOTP, domain.OTPChannelEmail); err != nil {
		t.Fatalf("complete auth: %v", err)
	}
	h.clock.Advance(7 * time.Hour)

	if auth.IsFullyCapable() || auth.HasBaseToken() {
		t.Fatalf("expired base token must void capability, got %+v", auth.Status())
	}
	if !auth.HasTradingToken() {
		t.Fatal("trading token is still held in memory")
	}
	if auth.State() != domain.StateUnauthenticated {
		t.Fatalf("state = %s", auth.State())
	}
	if err := auth.SendOTP(ctx, domain.OTPChannelEmail); !apperrors.IsCode(err, apperrors.CodeCapability) {
		t.Fatalf("expected capability error, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	auth := h.authenticator(t)

	if err := auth.Authenticate(ctx, alice()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := auth.Logout(ctx, "alice"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if auth.State() != domain.StateLoggedOut || auth.Record() != nil {
		t.Fatalf("expected logged out, got %+v", auth.Status())
	}
	if stored, _ := h.store.Load(ctx, "alice"); stored != nil {
		t.Fatalf("expected absent, got %+v", stored)
	}
	if err := auth.Logout(ctx, "alice"); err != nil {
		t.Fatalf("second logout: %v", err)
	}
}

func TestStorageWriteFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.store.saveErr = errors.New("disk full")
	auth := h.authenticator(t)

	err := auth.Authenticate(ctx, alice())
	if !apperrors.IsCode(err, apperrors.CodeStorageWrite) {
		t.Fatalf("expected storage write error, got %v", err)
	}
	if !auth.HasBaseToken() {
		t.Fatal("in-memory session must survive a failed write")
	}
}

func TestStorageWriteFailureWhenPersistenceOptional(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.store.saveErr = errors.New("disk full")
	h.opts.PersistenceOptional = true
	auth := h.authenticator(t)

	if err := auth.Authenticate(ctx, alice()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := auth.CompleteAuth(ctx, testOTP, domain.OTPChannelEmail); err != nil {
		t.Fatalf("complete auth: %v", err)
	}
	if !auth.IsFullyCapable() {
		t.Fatalf("expected fully capable, got %+v", auth.Status())
	}
}

func TestAuthenticateHonoursCancellation(t *testing.T) {
	h := newHarness(t, nil)
	auth := h.authenticator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := auth.Authenticate(ctx, alice())
	if !apperrors.IsCode(err, apperrors.CodeTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if stored, _ := h.store.Load(context.Background(), "alice"); stored != nil {
		t.Fatalf("expected nothing persisted, got %+v", stored)
	}
}

func TestCloseReleasesOnce(t *testing.T) {
	h := newHarness(t, nil)
	auth := h.authenticator(t)
	for i := 0; i < 3; i++ {
		if err := auth.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if n := h.store.closes.Load(); n != 1 {
		t.Fatalf("store closed %d times", n)
	}
}

func TestStatusOmitsTokens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	auth := h.authenticator(t)
	if err := auth.Authenticate(ctx, alice()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	st := auth.Status()
	if st.Username != "alice" || st.State != domain.StateBaseAuthenticated || !st.HasBaseToken {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.RemainingSeconds != int64((7 * time.Hour).Seconds()) {
		t.Fatalf("remaining = %d", st.RemainingSeconds)
	}
}
