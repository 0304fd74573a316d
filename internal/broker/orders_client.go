package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// OrderSide is the brokerage side code.
type OrderSide string

const (
	SideBuy  OrderSide = "NB"
	SideSell OrderSide = "NS"
)

// OrderType is the brokerage order type code.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LO"
	OrderTypeMarket OrderType = "MP"
)

// DefaultLoanPackageID is used when an order does not name one.
const DefaultLoanPackageID = "1036"

// Order describes a new order.
type Order struct {
	AccountNo     string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Price         decimal.Decimal
	Quantity      int64
	LoanPackageID string
}

func (o Order) validate() error {
	details := map[string]any{"symbol": o.Symbol}
	switch {
	case o.AccountNo == "" || o.Symbol == "":
		return apperrors.NewValidationError("account and symbol are required", details)
	case o.Side != SideBuy && o.Side != SideSell:
		return apperrors.NewValidationError("unknown order side", details)
	case o.Type != OrderTypeLimit && o.Type != OrderTypeMarket:
		return apperrors.NewValidationError("unknown order type", details)
	case o.Quantity <= 0:
		return apperrors.NewValidationError("quantity must be positive", details)
	case o.Price.IsNegative():
		return apperrors.NewValidationError("price must not be negative", details)
	}
	return nil
}

type orderBody struct {
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	OrderType     OrderType   `json:"orderType"`
	Price         json.Number `json:"price"`
	Quantity      int64       `json:"quantity"`
	LoanPackageID string      `json:"loanPackageId"`
	AccountNo     string      `json:"accountNo"`
}

// OrdersClient places and cancels orders. It needs both tokens.
type OrdersClient struct {
	transport    Transport
	token        string
	tradingToken string
	logger       *zap.Logger
}

// NewOrdersClient refuses to build a client unless both tokens are present.
func NewOrdersClient(transport Transport, token, tradingToken string, logger *zap.Logger) (*OrdersClient, error) {
	if token == "" || tradingToken == "" {
		return nil, apperrors.NewCapabilityError("orders client requires a base token and a trading token")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrdersClient{
		transport:    transport,
		token:        token,
		tradingToken: tradingToken,
		logger:       logger.With(zap.String("client", "orders")),
	}, nil
}

func (c *OrdersClient) headers() http.Header {
	h := BearerHeaders(c.token)
	h.Set(HeaderTradingToken, c.tradingToken)
	return h
}

// PlaceOrder submits o and returns the brokerage acknowledgement.
func (c *OrdersClient) PlaceOrder(ctx context.Context, o Order) (json.RawMessage, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	loanPackage := o.LoanPackageID
	if loanPackage == "" {
		loanPackage = DefaultLoanPackageID
	}
	c.logger.Info("placing order",
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.String("type", string(o.Type)),
		zap.Int64("quantity", o.Quantity),
		zap.String("price", o.Price.String()),
	)
	return call(ctx, c.transport, Request{
		Method:  http.MethodPost,
		Path:    PathOrders,
		Headers: c.headers(),
		Body: orderBody{
			Symbol:        o.Symbol,
			Side:          o.Side,
			OrderType:     o.Type,
			Price:         json.Number(o.Price.String()),
			Quantity:      o.Quantity,
			LoanPackageID: loanPackage,
			AccountNo:     o.AccountNo,
		},
	}, c.logger)
}

// CancelOrder cancels a pending order.
func (c *OrdersClient) CancelOrder(ctx context.Context, orderID, accountNo string) (json.RawMessage, error) {
	if orderID == "" || accountNo == "" {
		return nil, apperrors.NewValidationError("order id and account are required", nil)
	}
	return call(ctx, c.transport, Request{
		Method:  http.MethodDelete,
		Path:    PathOrders + "/" + url.PathEscape(orderID),
		Query:   url.Values{"accountNo": []string{accountNo}},
		Headers: c.headers(),
	}, c.logger)
}
