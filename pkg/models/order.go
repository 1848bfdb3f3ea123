package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// StatusNoPosition marks an exit that found nothing to sell. It is a
// successful outcome, not an error: the order endpoint is never contacted.
const StatusNoPosition = "no_position"

// OrderRequest describes a single market IOC order. Exactly one of
// QuoteSize and BaseSize is set: buys are bounded by a quote-currency
// amount, sells by a base-currency amount. Sizes are decimal strings so
// the exchange sees exactly what was decided upstream.
//
// The idempotency key is generated once per logical order and reused
// verbatim on every retry, so a resubmission whose first response was
// lost is deduplicated by the exchange instead of filling twice.
type OrderRequest struct {
	Pair           TradingPair
	Side           OrderSide
	QuoteSize      string
	BaseSize       string
	IdempotencyKey uuid.UUID
}

// OrderResult is the synchronous outcome of one execution. It is returned
// to the webhook caller and never persisted.
type OrderResult struct {
	OrderID   string `json:"order_id,omitempty"`
	Status    string `json:"status"`
	ProductID string `json:"product_id,omitempty"`
	Side      string `json:"side,omitempty"`
}

// AccountBalance is a point-in-time snapshot of one currency account,
// fetched fresh on every exit and never cached across requests.
// AvailableRaw preserves the exchange-reported string so sells can echo
// it back without rounding drift.
type AccountBalance struct {
	Currency     string
	Available    decimal.Decimal
	AvailableRaw string
}
