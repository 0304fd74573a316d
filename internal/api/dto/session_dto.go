package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperatorLoginRequest payload for the operator login.
type OperatorLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse carries an operator access token.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BrokerLoginRequest payload for the brokerage login.
type BrokerLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SendOTPRequest selects the otp channel; empty means email.
type SendOTPRequest struct {
	Channel string `json:"channel"`
}

// VerifyOTPRequest submits a passcode.
type VerifyOTPRequest struct {
	OTP     string `json:"otp"`
	Channel string `json:"channel"`
}

// PlaceOrderRequest payload for POST /session/orders.
type PlaceOrderRequest struct {
	AccountNo     string          `json:"account_no"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	OrderType     string          `json:"order_type"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int64           `json:"quantity"`
	LoanPackageID string          `json:"loan_package_id,omitempty"`
}
