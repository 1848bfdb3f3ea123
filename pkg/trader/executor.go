package trader

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/signalbridge/pkg/coinbase"
	"github.com/gregtusar/signalbridge/pkg/models"
)

// dustThreshold treats negligible residual balances as empty so exits do
// not submit sells the exchange would reject.
var dustThreshold = decimal.New(1, -8)

// PositionResolver answers "how much of the base asset does the account
// hold" with a fresh snapshot on every call. Balances are never cached:
// fills, transfers, and concurrent executions can change them between
// requests.
type PositionResolver struct {
	client coinbase.Client
	logger *logrus.Logger
}

func NewPositionResolver(client coinbase.Client, logger *logrus.Logger) *PositionResolver {
	return &PositionResolver{client: client, logger: logger}
}

// ResolveBaseBalance returns the available balance of the pair's base
// asset. The bool is false when there is nothing to sell: no matching
// account, a non-positive balance, or an amount at or below the dust
// threshold.
func (r *PositionResolver) ResolveBaseBalance(ctx context.Context, pair models.TradingPair) (models.AccountBalance, bool, error) {
	accounts, err := r.client.ListAccounts(ctx)
	if err != nil {
		return models.AccountBalance{}, false, fmt.Errorf("listing accounts: %w", err)
	}

	var match *models.AccountBalance
	for i := range accounts {
		if accounts[i].Currency != pair.Base {
			continue
		}
		if match != nil {
			// At most one account per currency is expected; keep the
			// first and flag the anomaly.
			r.logger.WithField("currency", pair.Base).Warn("Exchange returned duplicate currency accounts")
			continue
		}
		match = &accounts[i]
	}

	if match == nil || match.Available.Cmp(dustThreshold) <= 0 {
		return models.AccountBalance{}, false, nil
	}
	return *match, true, nil
}

// OrderExecutor turns a trading intent into at most one market order.
// Each execution is single-shot with no cross-call memory.
type OrderExecutor struct {
	client   coinbase.Client
	resolver *PositionResolver
	logger   *logrus.Logger
}

func NewOrderExecutor(client coinbase.Client, resolver *PositionResolver, logger *logrus.Logger) *OrderExecutor {
	return &OrderExecutor{client: client, resolver: resolver, logger: logger}
}

func (e *OrderExecutor) Execute(ctx context.Context, intent models.TradingIntent) (*models.OrderResult, error) {
	switch intent.Kind {
	case models.IntentEnter:
		return e.enter(ctx, intent)
	case models.IntentExit:
		return e.exit(ctx, intent)
	default:
		return nil, fmt.Errorf("intent %q is not executable", intent.Kind)
	}
}

// enter buys a fixed quote-currency amount at market. No balance check:
// the buy is bounded by the quote amount itself.
func (e *OrderExecutor) enter(ctx context.Context, intent models.TradingIntent) (*models.OrderResult, error) {
	order := &models.OrderRequest{
		Pair:           intent.Pair,
		Side:           models.OrderSideBuy,
		QuoteSize:      intent.QuoteSize.String(),
		IdempotencyKey: uuid.New(),
	}
	e.logger.WithFields(logrus.Fields{
		"product_id": intent.Pair.ProductID(),
		"quote_size": order.QuoteSize,
	}).Info("Submitting market buy")
	return e.client.CreateOrder(ctx, order)
}

// exit sells the entire base-asset balance. Nothing to sell is an
// expected steady state and short-circuits without touching the order
// endpoint.
func (e *OrderExecutor) exit(ctx context.Context, intent models.TradingIntent) (*models.OrderResult, error) {
	balance, found, err := e.resolver.ResolveBaseBalance(ctx, intent.Pair)
	if err != nil {
		return nil, err
	}
	if !found {
		e.logger.WithField("product_id", intent.Pair.ProductID()).Info("Exit signal with no position")
		return &models.OrderResult{
			Status:    models.StatusNoPosition,
			ProductID: intent.Pair.ProductID(),
		}, nil
	}

	// The exchange-reported balance string is echoed back verbatim so the
	// sell size cannot drift from what was queried. If a concurrent fill
	// shrank the balance in between, the exchange clips or rejects.
	order := &models.OrderRequest{
		Pair:           intent.Pair,
		Side:           models.OrderSideSell,
		BaseSize:       balance.AvailableRaw,
		IdempotencyKey: uuid.New(),
	}
	e.logger.WithFields(logrus.Fields{
		"product_id": intent.Pair.ProductID(),
		"base_size":  order.BaseSize,
	}).Info("Submitting market sell of full position")
	return e.client.CreateOrder(ctx, order)
}
