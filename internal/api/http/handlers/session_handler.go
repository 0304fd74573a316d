package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/brokerauth/internal/api/dto"
	"github.com/spec-kit/brokerauth/internal/broker"
	"github.com/spec-kit/brokerauth/internal/domain"
	"github.com/spec-kit/brokerauth/internal/service"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// SessionHandler drives the process-wide brokerage session.
type SessionHandler struct {
	session *service.Session
}

// NewSessionHandler constructs handler.
func NewSessionHandler(session *service.Session) *SessionHandler {
	return &SessionHandler{session: session}
}

// Login handles POST /session/login.
func (h *SessionHandler) Login(c *fiber.Ctx) error {
	var req dto.BrokerLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	cached, err := h.session.Login(c.UserContext(), domain.Credential{Username: req.Username, Password: req.Password})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"cached": cached,
		"status": h.session.Status(),
	}})
}

// SendOTP handles POST /session/otp.
func (h *SessionHandler) SendOTP(c *fiber.Ctx) error {
	var req dto.SendOTPRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	channel, err := parseChannel(req.Channel)
	if err != nil {
		return err
	}
	if err := h.session.SendOTP(c.UserContext(), channel); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": h.session.Status()})
}

// VerifyOTP handles POST /session/otp/verify.
func (h *SessionHandler) VerifyOTP(c *fiber.Ctx) error {
	var req dto.VerifyOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	channel, err := parseChannel(req.Channel)
	if err != nil {
		return err
	}
	if err := h.session.CompleteAuth(c.UserContext(), req.OTP, channel); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.session.Status()})
}

// Status handles GET /session/status.
func (h *SessionHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.session.Status()})
}

// Logout handles POST /session/logout.
func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	if err := h.session.Logout(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Me handles GET /session/me.
func (h *SessionHandler) Me(c *fiber.Ctx) error {
	profile, err := h.session.Me(c.UserContext())
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(profile)
}

// PlaceOrder handles POST /session/orders.
func (h *SessionHandler) PlaceOrder(c *fiber.Ctx) error {
	var req dto.PlaceOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	client, err := h.session.OrdersClient()
	if err != nil {
		return err
	}
	ack, err := client.PlaceOrder(c.UserContext(), broker.Order{
		AccountNo:     req.AccountNo,
		Symbol:        req.Symbol,
		Side:          broker.OrderSide(req.Side),
		Type:          broker.OrderType(req.OrderType),
		Price:         req.Price,
		Quantity:      req.Quantity,
		LoanPackageID: req.LoanPackageID,
	})
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusCreated).Send(ack)
}

func parseChannel(raw string) (domain.OTPChannel, error) {
	channel, err := domain.ParseOTPChannel(raw)
	if err != nil {
		return "", apperrors.NewValidationError(err.Error(), map[string]any{"channel": raw})
	}
	return channel, nil
}
