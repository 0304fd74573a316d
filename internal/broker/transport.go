package broker

import (
	"context"
	"net/http"
	"net/url"
)

// Brokerage endpoints.
const (
	PathLogin        = "/auth-service/login"
	PathEmailOTP     = "/auth-service/api/email-otp"
	PathTradingToken = "/order-service/trading-token"
	PathMe           = "/user-service/api/me"
	PathAccounts     = "/order-service/accounts"
	PathOrders       = "/order-service/v2/orders"
)

// HeaderTradingToken carries the trading token on order calls.
const HeaderTradingToken = "Trading-Token"

// Request is one call to the brokerage API.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header
	// Body is encoded as JSON when non-nil.
	Body any
}

// Response is a completed exchange with the brokerage.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport sends requests to the brokerage. Do returns a Response for every
// exchange that completed with a non-retryable status (2xx, 3xx, 4xx) and an
// error for connectivity failures, timeouts and exhausted retries.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
	Close() error
}

// BearerHeaders returns the authorization header for token.
func BearerHeaders(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
