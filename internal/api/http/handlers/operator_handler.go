package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/brokerauth/internal/api/dto"
	"github.com/spec-kit/brokerauth/internal/auth"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// OperatorHandler exposes the operator login.
type OperatorHandler struct {
	operators *auth.OperatorAuth
}

// NewOperatorHandler constructs handler.
func NewOperatorHandler(operators *auth.OperatorAuth) *OperatorHandler {
	return &OperatorHandler{operators: operators}
}

// Login handles POST /operator/login.
func (h *OperatorHandler) Login(c *fiber.Ctx) error {
	var req dto.OperatorLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Username == "" || req.Password == "" {
		return apperrors.NewValidationError("username and password required", nil)
	}

	token, exp, err := h.operators.Login(req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AuthResponse{Token: token, ExpiresAt: exp}})
}
