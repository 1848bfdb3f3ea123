package models

import (
	"fmt"
	"strings"
)

const pairSeparator = "-"

// TradingPair is a base/quote currency pair, e.g. SOL-USD.
type TradingPair struct {
	Base  string
	Quote string
}

// ParsePair splits a product identifier like "SOL-USD" into its base and
// quote currencies. Identifiers are uppercase-normalized and must contain
// exactly one separator.
func ParsePair(productID string) (TradingPair, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(productID)), pairSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TradingPair{}, fmt.Errorf("malformed product id %q: want BASE-QUOTE", productID)
	}
	return TradingPair{Base: parts[0], Quote: parts[1]}, nil
}

// ProductID re-joins the pair into the exchange's product identifier.
func (p TradingPair) ProductID() string {
	return p.Base + pairSeparator + p.Quote
}

func (p TradingPair) String() string {
	return p.ProductID()
}
