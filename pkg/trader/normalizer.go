package trader

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gregtusar/signalbridge/pkg/models"
)

const (
	signalBuy  = "BUY_SIGNAL"
	signalExit = "EXIT_SIGNAL"
)

// InvalidSignalError marks a webhook payload the pipeline cannot act on.
// Distinct from unrecognized signals, which normalize to Ignored.
type InvalidSignalError struct {
	Reason string
}

func (e *InvalidSignalError) Error() string {
	return "invalid signal: " + e.Reason
}

// webhookPayload is the inbound alert shape. TradingView templates emit
// quote_size as either a bare number or a quoted string, so it is kept
// raw and parsed by hand. product_id wins over symbol when both are
// present.
type webhookPayload struct {
	Signal    string          `json:"signal"`
	ProductID string          `json:"product_id"`
	Symbol    string          `json:"symbol"`
	QuoteSize json.RawMessage `json:"quote_size"`
}

// quoteSizeString unquotes a raw quote_size value. Returns "" when the
// field was absent or null.
func (p webhookPayload) quoteSizeString() string {
	s := strings.TrimSpace(string(p.QuoteSize))
	s = strings.Trim(s, `"`)
	if s == "null" {
		return ""
	}
	return s
}

// SignalNormalizer turns raw webhook payloads into fully specified
// trading intents. Defaults for the pair and quote amount are applied
// here, at normalization time, so the executor never sees a partial
// intent.
type SignalNormalizer struct {
	defaultPair      models.TradingPair
	defaultQuoteSize decimal.Decimal
}

func NewSignalNormalizer(defaultPair models.TradingPair, defaultQuoteSize decimal.Decimal) *SignalNormalizer {
	return &SignalNormalizer{
		defaultPair:      defaultPair,
		defaultQuoteSize: defaultQuoteSize,
	}
}

func (n *SignalNormalizer) Normalize(payload []byte) (models.TradingIntent, error) {
	var raw webhookPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.TradingIntent{}, &InvalidSignalError{Reason: "payload is not a JSON object"}
	}

	signal := strings.ToUpper(strings.TrimSpace(raw.Signal))
	if signal == "" {
		return models.TradingIntent{}, &InvalidSignalError{Reason: "missing signal field"}
	}

	// Unrecognized signals are informational alerts, not errors. They are
	// classified before pair resolution so an alert about an unknown
	// instrument is still silently skipped.
	if signal != signalBuy && signal != signalExit {
		return models.TradingIntent{Kind: models.IntentIgnored, Signal: signal}, nil
	}

	pair, err := n.resolvePair(raw)
	if err != nil {
		return models.TradingIntent{}, err
	}

	if signal == signalExit {
		return models.TradingIntent{Kind: models.IntentExit, Pair: pair, Signal: signal}, nil
	}

	quoteSize := n.defaultQuoteSize
	if s := raw.quoteSizeString(); s != "" {
		quoteSize, err = decimal.NewFromString(s)
		if err != nil || !quoteSize.IsPositive() {
			return models.TradingIntent{}, &InvalidSignalError{
				Reason: fmt.Sprintf("quote_size %q is not a positive number", s),
			}
		}
	}
	return models.TradingIntent{
		Kind:      models.IntentEnter,
		Pair:      pair,
		QuoteSize: quoteSize,
		Signal:    signal,
	}, nil
}

func (n *SignalNormalizer) resolvePair(raw webhookPayload) (models.TradingPair, error) {
	switch {
	case raw.ProductID != "":
		pair, err := models.ParsePair(raw.ProductID)
		if err != nil {
			return models.TradingPair{}, &InvalidSignalError{Reason: err.Error()}
		}
		return pair, nil
	case raw.Symbol != "":
		pair, err := pairFromAlertSymbol(raw.Symbol)
		if err != nil {
			return models.TradingPair{}, &InvalidSignalError{Reason: err.Error()}
		}
		return pair, nil
	default:
		return n.defaultPair, nil
	}
}

// pairFromAlertSymbol converts charting symbols like "COINBASE:SOLUSD" or
// "BINANCE:SOLUSDT" into product form. The venue prefix is stripped and
// USDT quotes map to USD so alerts charted on other venues still route
// here.
func pairFromAlertSymbol(symbol string) (models.TradingPair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	if strings.Contains(s, "-") {
		return models.ParsePair(s)
	}
	s = strings.Replace(s, "USDT", "USD", 1)
	if len(s) < 4 {
		return models.TradingPair{}, fmt.Errorf("symbol %q too short to split into base and quote", symbol)
	}
	return models.TradingPair{Base: s[:len(s)-3], Quote: s[len(s)-3:]}, nil
}
