package broker

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// UsersClient performs read-only profile and account calls. It only needs the
// base token.
type UsersClient struct {
	transport Transport
	token     string
	logger    *zap.Logger
}

// NewUsersClient refuses to build a client without a base token.
func NewUsersClient(transport Transport, token string, logger *zap.Logger) (*UsersClient, error) {
	if token == "" {
		return nil, apperrors.NewCapabilityError("users client requires a base token")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsersClient{transport: transport, token: token, logger: logger.With(zap.String("client", "users"))}, nil
}

// Me returns the profile of the authenticated user.
func (c *UsersClient) Me(ctx context.Context) (json.RawMessage, error) {
	return call(ctx, c.transport, Request{
		Method:  http.MethodGet,
		Path:    PathMe,
		Headers: BearerHeaders(c.token),
	}, c.logger)
}

// Accounts lists the trading sub-accounts of the authenticated user.
func (c *UsersClient) Accounts(ctx context.Context) (json.RawMessage, error) {
	return call(ctx, c.transport, Request{
		Method:  http.MethodGet,
		Path:    PathAccounts,
		Headers: BearerHeaders(c.token),
	}, c.logger)
}
