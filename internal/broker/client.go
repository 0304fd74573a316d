package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// call sends req and maps non-2xx responses onto domain errors.
func call(ctx context.Context, transport Transport, req Request, logger *zap.Logger) (json.RawMessage, error) {
	resp, err := transport.Do(ctx, req)
	if err != nil {
		logger.Error("broker call failed", zap.String("path", req.Path), zap.Error(err))
		return nil, err
	}
	if !resp.OK() {
		logger.Warn("broker call rejected", zap.String("path", req.Path), zap.Int("status", resp.StatusCode))
		return nil, StatusError(req, resp)
	}
	if len(resp.Body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(resp.Body) {
		return nil, apperrors.NewProtocolError(
			fmt.Sprintf("%s %s returned invalid JSON", req.Method, req.Path), resp.StatusCode, resp.Body)
	}
	return json.RawMessage(resp.Body), nil
}

// StatusError maps a non-2xx brokerage response onto a domain error.
func StatusError(req Request, resp *Response) error {
	msg := fmt.Sprintf("%s %s rejected with status %d", req.Method, req.Path, resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.NewCredentialError(msg, resp.StatusCode, resp.Body)
	default:
		return apperrors.NewProtocolError(msg, resp.StatusCode, resp.Body)
	}
}
