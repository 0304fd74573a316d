package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// CapabilitySource reports which brokerage token tier is currently held.
type CapabilitySource interface {
	HasBaseToken() bool
	IsFullyCapable() bool
}

// RequireBaseTier rejects requests unless a valid base token is held.
func RequireBaseTier(src CapabilitySource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !src.HasBaseToken() {
			return apperrors.NewCapabilityError("brokerage login required")
		}
		return c.Next()
	}
}

// RequireFullTier rejects requests unless both tokens are held.
func RequireFullTier(src CapabilitySource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !src.IsFullyCapable() {
			return apperrors.NewCapabilityError("otp verification required")
		}
		return c.Next()
	}
}

// RequireOperator ensures the caller passed AuthMiddleware.
func RequireOperator() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("operator authentication required")
		}
		return c.Next()
	}
}
