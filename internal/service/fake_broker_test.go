package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spec-kit/brokerauth/internal/broker"
	"github.com/spec-kit/brokerauth/internal/domain"
	"github.com/spec-kit/brokerauth/internal/events"
	"github.com/spec-kit/brokerauth/internal/repository"
)

const (
	testBaseToken    = "T1"
	testTradingToken = "TT1"
	testPassword     = "s3cret"
	testOTP          = "123456"
)

// fakeBroker mimics the brokerage login, otp dispatch and otp exchange endpoints.
type fakeBroker struct {
	mu               sync.Mutex
	omitToken        bool
	omitTradingToken bool
	logins           int
	dispatches       []http.Header
	exchanges        []http.Header
}

func (f *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == broker.PathLogin:
		f.logins++
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid credentials"}`))
			return
		}
		if f.omitToken {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"` + testBaseToken + `"}`))
	case r.Method == http.MethodGet && r.URL.Path == broker.PathEmailOTP:
		f.dispatches = append(f.dispatches, r.Header.Clone())
		if r.Header.Get("Authorization") != "Bearer "+testBaseToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && r.URL.Path == broker.PathTradingToken:
		f.exchanges = append(f.exchanges, r.Header.Clone())
		if r.Header.Get("Authorization") != "Bearer "+testBaseToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("otp") != testOTP && r.Header.Get("smart-otp") != testOTP {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"wrong otp"}`))
			return
		}
		if f.omitTradingToken {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"tradingToken":"` + testTradingToken + `"}`))
	case r.Method == http.MethodGet && r.URL.Path == broker.PathMe:
		if r.Header.Get("Authorization") != "Bearer "+testBaseToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"name":"alice"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeBroker) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeBroker) dispatchHeaders() []http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]http.Header(nil), f.dispatches...)
}

func (f *fakeBroker) exchangeHeaders() []http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]http.Header(nil), f.exchanges...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// spyStore wraps a TokenStore to inject write failures and count releases.
type spyStore struct {
	repository.TokenStore
	saveErr error
	closes  atomic.Int32
}

func (s *spyStore) Save(ctx context.Context, username string, record *domain.TokenRecord) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.TokenStore.Save(ctx, username, record)
}

func (s *spyStore) Close() error {
	s.closes.Add(1)
	return s.TokenStore.Close()
}

type recordedEvents struct {
	mu    sync.Mutex
	types []events.EventType
}

func (r *recordedEvents) subscribe(d events.Dispatcher) {
	for _, eventType := range events.AllEventTypes {
		d.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.types = append(r.types, e.Type)
			return nil
		})
	}
}

func (r *recordedEvents) list() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.EventType(nil), r.types...)
}

type harness struct {
	broker *fakeBroker
	store  *spyStore
	clock  *testClock
	events *recordedEvents
	opts   AuthenticatorOptions
}

func newHarness(t *testing.T, store repository.TokenStore) *harness {
	t.Helper()
	fb := &fakeBroker{}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	if store == nil {
		store = repository.NewFileTokenStore("", nil)
	}
	spy := &spyStore{TokenStore: store}
	clock := newTestClock()
	dispatcher := events.NewInMemoryDispatcher()
	recorded := &recordedEvents{}
	recorded.subscribe(dispatcher)

	return &harness{
		broker: fb,
		store:  spy,
		clock:  clock,
		events: recorded,
		opts: AuthenticatorOptions{
			Transport: broker.NewHTTPTransport(broker.HTTPTransportOptions{
				BaseURL: srv.URL,
				Timeout: 2 * time.Second,
			}, nil),
			Store:            spy,
			TokenExpiry:      7 * time.Hour,
			RefreshThreshold: 30 * time.Minute,
			Events:           dispatcher,
			Now:              clock.Now,
		},
	}
}

func (h *harness) authenticator(t *testing.T) *Authenticator {
	t.Helper()
	auth, err := NewAuthenticator(h.opts)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	t.Cleanup(func() { _ = auth.Close() })
	return auth
}

func alice() domain.Credential {
	return domain.Credential{Username: "alice", Password: testPassword}
}
