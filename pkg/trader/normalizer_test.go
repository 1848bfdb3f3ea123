package trader

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gregtusar/signalbridge/pkg/models"
)

func newTestNormalizer(t *testing.T) *SignalNormalizer {
	t.Helper()
	pair, err := models.ParsePair("SOL-USD")
	if err != nil {
		t.Fatalf("ParsePair: %v", err)
	}
	return NewSignalNormalizer(pair, decimal.RequireFromString("1000"))
}

func TestNormalizeRecognizedSignals(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		name      string
		payload   string
		kind      models.IntentKind
		productID string
		quoteSize string
	}{
		{
			name:      "buy with defaults",
			payload:   `{"signal":"BUY_SIGNAL"}`,
			kind:      models.IntentEnter,
			productID: "SOL-USD",
			quoteSize: "1000",
		},
		{
			name:      "buy with numeric quote size",
			payload:   `{"signal":"BUY_SIGNAL","quote_size":5.0}`,
			kind:      models.IntentEnter,
			productID: "SOL-USD",
			quoteSize: "5.0",
		},
		{
			name:      "buy with string quote size",
			payload:   `{"signal":"BUY_SIGNAL","quote_size":"2.5"}`,
			kind:      models.IntentEnter,
			productID: "SOL-USD",
			quoteSize: "2.5",
		},
		{
			name:      "buy with explicit product id",
			payload:   `{"signal":"BUY_SIGNAL","product_id":"abt-usdc"}`,
			kind:      models.IntentEnter,
			productID: "ABT-USDC",
			quoteSize: "1000",
		},
		{
			name:      "lowercase signal uppercased",
			payload:   `{"signal":"buy_signal"}`,
			kind:      models.IntentEnter,
			productID: "SOL-USD",
			quoteSize: "1000",
		},
		{
			name:      "exit with default pair",
			payload:   `{"signal":"EXIT_SIGNAL"}`,
			kind:      models.IntentExit,
			productID: "SOL-USD",
		},
		{
			name:      "exit with charting symbol",
			payload:   `{"signal":"EXIT_SIGNAL","symbol":"COINBASE:ETHUSD"}`,
			kind:      models.IntentExit,
			productID: "ETH-USD",
		},
		{
			name:      "usdt symbol mapped to usd",
			payload:   `{"signal":"BUY_SIGNAL","symbol":"BINANCE:SOLUSDT"}`,
			kind:      models.IntentEnter,
			productID: "SOL-USD",
			quoteSize: "1000",
		},
		{
			name:      "symbol already in product form",
			payload:   `{"signal":"BUY_SIGNAL","symbol":"ABT-USDC"}`,
			kind:      models.IntentEnter,
			productID: "ABT-USDC",
			quoteSize: "1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, err := n.Normalize([]byte(tt.payload))
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if intent.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", intent.Kind, tt.kind)
			}
			if intent.Pair.ProductID() != tt.productID {
				t.Errorf("pair = %s, want %s", intent.Pair.ProductID(), tt.productID)
			}
			if tt.quoteSize != "" && intent.QuoteSize.String() != tt.quoteSize {
				t.Errorf("quote size = %s, want %s", intent.QuoteSize, tt.quoteSize)
			}
		})
	}
}

func TestNormalizeIgnoresUnrecognizedSignals(t *testing.T) {
	n := newTestNormalizer(t)

	for _, payload := range []string{
		`{"signal":"SOME_INFO_ALERT"}`,
		`{"signal":"SELL_HALF"}`,
		`{"signal":"test_alert","symbol":"not a symbol at all"}`,
	} {
		intent, err := n.Normalize([]byte(payload))
		if err != nil {
			t.Errorf("Normalize(%s): unexpected error %v", payload, err)
			continue
		}
		if intent.Kind != models.IntentIgnored {
			t.Errorf("Normalize(%s) kind = %s, want ignored", payload, intent.Kind)
		}
	}
}

func TestNormalizeRejectsInvalidPayloads(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `not json`},
		{name: "json array", payload: `[1,2,3]`},
		{name: "empty object", payload: `{}`},
		{name: "empty signal", payload: `{"signal":"  "}`},
		{name: "malformed product id", payload: `{"signal":"BUY_SIGNAL","product_id":"SOLUSD"}`},
		{name: "unsplittable symbol", payload: `{"signal":"EXIT_SIGNAL","symbol":"XY"}`},
		{name: "negative quote size", payload: `{"signal":"BUY_SIGNAL","quote_size":-5}`},
		{name: "zero quote size", payload: `{"signal":"BUY_SIGNAL","quote_size":0}`},
		{name: "non numeric quote size", payload: `{"signal":"BUY_SIGNAL","quote_size":"lots"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize([]byte(tt.payload))
			var invalid *InvalidSignalError
			if !errors.As(err, &invalid) {
				t.Errorf("Normalize(%s) error = %v, want *InvalidSignalError", tt.payload, err)
			}
		})
	}
}
