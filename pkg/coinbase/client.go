package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gregtusar/signalbridge/pkg/models"
)

const (
	DefaultBaseURL = "https://api.coinbase.com"

	accountsPath = "/api/v3/brokerage/accounts"
	ordersPath   = "/api/v3/brokerage/orders"

	accountsPageLimit = 250

	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
)

// Client is the surface the execution pipeline needs from the exchange.
type Client interface {
	ListAccounts(ctx context.Context) ([]models.AccountBalance, error)
	CreateOrder(ctx context.Context, order *models.OrderRequest) (*models.OrderResult, error)
}

// AdvancedTradeClient talks to the Coinbase Advanced Trade REST API.
// Every call obtains fresh auth headers from its Authenticator; nothing
// credential-derived is reused across calls.
type AdvancedTradeClient struct {
	auth       Authenticator
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger

	maxAttempts int
	retryDelay  time.Duration
}

func NewAdvancedTradeClient(auth Authenticator, baseURL string, logger *logrus.Logger) *AdvancedTradeClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &AdvancedTradeClient{
		auth:        auth,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(10), 10),
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

type accountsResponse struct {
	Accounts []accountRecord `json:"accounts"`
	HasNext  bool            `json:"has_next"`
	Cursor   string          `json:"cursor"`
}

// accountRecord tolerates both account shapes the exchange has been seen
// returning: the object form {"available_balance":{"value":"1.23"}} and
// the flat form {"available":"1.23"}. This is the one place wire-shape
// drift is absorbed; everything downstream sees models.AccountBalance.
type accountRecord struct {
	Currency         string         `json:"currency"`
	Available        json.Number    `json:"available"`
	AvailableBalance *balanceRecord `json:"available_balance"`
}

type balanceRecord struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func (r accountRecord) balance() (models.AccountBalance, error) {
	currency := r.Currency
	raw := ""
	if r.AvailableBalance != nil && r.AvailableBalance.Value != "" {
		raw = r.AvailableBalance.Value
		if currency == "" {
			currency = r.AvailableBalance.Currency
		}
	} else {
		raw = r.Available.String()
	}
	if raw == "" {
		raw = "0"
	}

	available, err := decimal.NewFromString(raw)
	if err != nil {
		return models.AccountBalance{}, fmt.Errorf("unparseable balance %q for currency %q: %w", raw, currency, err)
	}
	return models.AccountBalance{
		Currency:     currency,
		Available:    available,
		AvailableRaw: raw,
	}, nil
}

// ListAccounts fetches every account page and returns the currency
// balances as reported, raw strings included.
func (c *AdvancedTradeClient) ListAccounts(ctx context.Context) ([]models.AccountBalance, error) {
	var balances []models.AccountBalance
	cursor := ""
	for {
		path := fmt.Sprintf("%s?limit=%d", accountsPath, accountsPageLimit)
		if cursor != "" {
			path += "&cursor=" + cursor
		}

		var page accountsResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for _, record := range page.Accounts {
			balance, err := record.balance()
			if err != nil {
				return nil, err
			}
			balances = append(balances, balance)
		}
		if !page.HasNext || page.Cursor == "" {
			return balances, nil
		}
		cursor = page.Cursor
	}
}

type createOrderBody struct {
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	OrderConfiguration orderConfiguration `json:"order_configuration"`
	IdempotencyKey     string             `json:"idempotency_key"`
}

type orderConfiguration struct {
	MarketIOC marketIOC `json:"market_ioc"`
}

type marketIOC struct {
	QuoteSize string `json:"quote_size,omitempty"`
	BaseSize  string `json:"base_size,omitempty"`
}

// createOrderResponse tolerates the flat {"order_id","status"} shape and
// the nested {"success_response":{"order_id"}} shape.
type createOrderResponse struct {
	OrderID         string `json:"order_id"`
	Status          string `json:"status"`
	FailureReason   string `json:"failure_reason"`
	SuccessResponse *struct {
		OrderID string `json:"order_id"`
	} `json:"success_response"`
}

// CreateOrder submits one market IOC order. Placing an order moves money:
// the request body, including its idempotency key, is marshaled once and
// resent byte-identical on every retry so an ambiguous first attempt can
// only ever fill once.
func (c *AdvancedTradeClient) CreateOrder(ctx context.Context, order *models.OrderRequest) (*models.OrderResult, error) {
	body := createOrderBody{
		ProductID:      order.Pair.ProductID(),
		Side:           string(order.Side),
		IdempotencyKey: order.IdempotencyKey.String(),
	}
	switch {
	case order.QuoteSize != "":
		body.OrderConfiguration.MarketIOC.QuoteSize = order.QuoteSize
	case order.BaseSize != "":
		body.OrderConfiguration.MarketIOC.BaseSize = order.BaseSize
	default:
		return nil, fmt.Errorf("order request carries neither quote_size nor base_size")
	}

	var resp createOrderResponse
	if err := c.do(ctx, http.MethodPost, ordersPath, body, &resp); err != nil {
		return nil, err
	}
	if resp.FailureReason != "" {
		return nil, &RejectedError{StatusCode: http.StatusOK, Reason: resp.FailureReason}
	}

	orderID := resp.OrderID
	if orderID == "" && resp.SuccessResponse != nil {
		orderID = resp.SuccessResponse.OrderID
	}
	status := resp.Status
	if status == "" {
		status = "submitted"
	}

	return &models.OrderResult{
		OrderID:   orderID,
		Status:    status,
		ProductID: order.Pair.ProductID(),
		Side:      string(order.Side),
	}, nil
}

// do issues one authenticated request with bounded retries. Transient
// failures (connection errors, timeouts, 5xx) are retried with a fixed
// delay; 4xx responses propagate immediately as *RejectedError.
func (c *AdvancedTradeClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"path":    path,
			}).Warn("Retrying exchange request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		retryable, err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
	}
	return &UnavailableError{Attempts: c.maxAttempts, Err: lastErr}
}

// doOnce performs a single HTTP attempt. The bool reports whether a
// failure is transient and may be retried.
func (c *AdvancedTradeClient) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) (bool, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.auth.AddAuthHeaders(req, method, path, string(payload)); err != nil {
		return false, fmt.Errorf("signing request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, err
	}

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("exchange returned %d: %s", resp.StatusCode, truncate(raw))
	case resp.StatusCode >= 400:
		return false, &RejectedError{StatusCode: resp.StatusCode, Reason: exchangeMessage(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("decoding exchange response: %w", err)
		}
	}
	return false, nil
}

// exchangeMessage pulls the human-readable message out of a structured
// error body, falling back to the body itself.
func exchangeMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return truncate(raw)
}

func truncate(raw []byte) string {
	const max = 256
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
