package auth

import (
	"crypto/subtle"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/config"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// OperatorAuth checks the single operator account allowed to drive the session
// over HTTP.
type OperatorAuth struct {
	username     string
	passwordHash string
	tokens       *TokenManager
	logger       *zap.Logger
}

// NewOperatorAuth builds the operator login check from config.
func NewOperatorAuth(cfg config.OperatorConfig, logger *zap.Logger) *OperatorAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperatorAuth{
		username:     cfg.Username,
		passwordHash: cfg.PasswordHash,
		tokens:       NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		logger:       logger.With(zap.String("component", "operator_auth")),
	}
}

// TokenManager returns the JWT manager used to verify access tokens.
func (o *OperatorAuth) TokenManager() *TokenManager {
	return o.tokens
}

// Login verifies the operator credentials and issues an access token.
func (o *OperatorAuth) Login(username, password string) (string, time.Time, error) {
	if o.passwordHash == "" {
		return "", time.Time{}, apperrors.NewForbidden("operator login disabled")
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(o.username)) == 1
	if err := ComparePassword(o.passwordHash, password); err != nil || !userOK {
		o.logger.Warn("operator login rejected", zap.String("username", username))
		return "", time.Time{}, apperrors.NewUnauthorized("invalid operator credentials")
	}
	token, expiresAt, err := o.tokens.GenerateToken(o.username)
	if err != nil {
		return "", time.Time{}, apperrors.NewInternalError(err)
	}
	return token, expiresAt, nil
}
