package models

import "github.com/shopspring/decimal"

type IntentKind string

const (
	IntentEnter   IntentKind = "enter"
	IntentExit    IntentKind = "exit"
	IntentIgnored IntentKind = "ignored"
)

// TradingIntent is a fully specified, request-scoped instruction produced
// by the signal normalizer. Enter buys QuoteSize of the quote currency at
// market; Exit sells the entire base-asset balance. Ignored intents come
// from well-formed but unrecognized signals and never reach the executor.
type TradingIntent struct {
	Kind      IntentKind
	Pair      TradingPair
	QuoteSize decimal.Decimal // Enter only
	Signal    string          // raw signal value, kept for logging
}
