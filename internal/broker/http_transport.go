package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

const maxResponseBytes = 1 << 20

// HTTPTransportOptions configures HTTPTransport.
type HTTPTransportOptions struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// Client overrides the default http.Client, mostly for tests.
	Client *http.Client
}

// HTTPTransport talks JSON over HTTP and retries connectivity failures, 429 and
// 5xx responses with exponential backoff. 4xx responses are never retried.
type HTTPTransport struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewHTTPTransport builds a transport for the brokerage at opts.BaseURL.
func NewHTTPTransport(opts HTTPTransportOptions, logger *zap.Logger) *HTTPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		client:     client,
		maxRetries: retries,
		retryDelay: opts.RetryDelay,
		logger:     logger.With(zap.String("component", "broker_transport")),
	}
}

func (t *HTTPTransport) Do(ctx context.Context, req Request) (*Response, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, apperrors.NewTransportError("broker transport closed", 0, nil, nil)
	}

	var payload []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", req.Method, req.Path, err)
		}
		payload = encoded
	}

	target := t.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	requestID := uuid.NewString()
	log := t.logger.With(
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.String("request_id", requestID),
	)

	var (
		lastErr    error
		lastStatus int
		lastBody   []byte
	)
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			if err := t.backoff(ctx, attempt); err != nil {
				return nil, apperrors.NewTransportError("broker request cancelled", lastStatus, lastBody, err)
			}
		}

		resp, err := t.send(ctx, req, target, payload, requestID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperrors.NewTransportError("broker request cancelled", 0, nil, ctx.Err())
			}
			lastErr, lastStatus, lastBody = err, 0, nil
			log.Warn("broker request failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if !retryable(resp.StatusCode) {
			log.Debug("broker request completed", zap.Int("status", resp.StatusCode))
			return resp, nil
		}
		lastErr, lastStatus, lastBody = nil, resp.StatusCode, resp.Body
		log.Warn("broker request returned retryable status", zap.Int("attempt", attempt+1), zap.Int("status", resp.StatusCode))
	}

	if lastStatus != 0 {
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("broker request failed with status %d", lastStatus), lastStatus, lastBody, nil)
	}
	return nil, apperrors.NewTransportError("broker unreachable", 0, nil, lastErr)
}

func (t *HTTPTransport) send(ctx context.Context, req Request, target string, payload []byte, requestID string) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}
	for name, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: data}, nil
}

func (t *HTTPTransport) backoff(ctx context.Context, attempt int) error {
	delay := t.retryDelay * time.Duration(1<<(attempt-1))
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close drops idle connections. Requests issued afterwards fail.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.client.CloseIdleConnections()
	return nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// IsCancelled reports whether err came from the caller's context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
