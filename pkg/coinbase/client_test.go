package coinbase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/signalbridge/pkg/models"
)

func newTestClient(t *testing.T, baseURL string) *AdvancedTradeClient {
	t.Helper()
	auth, err := NewHMACAuthenticator("key", base64.StdEncoding.EncodeToString([]byte("secret")), "")
	if err != nil {
		t.Fatalf("NewHMACAuthenticator: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client := NewAdvancedTradeClient(auth, baseURL, logger)
	client.retryDelay = 0
	return client
}

func testOrder(t *testing.T) *models.OrderRequest {
	t.Helper()
	pair, err := models.ParsePair("SOL-USD")
	if err != nil {
		t.Fatalf("ParsePair: %v", err)
	}
	return &models.OrderRequest{
		Pair:           pair,
		Side:           models.OrderSideBuy,
		QuoteSize:      "5.0",
		IdempotencyKey: uuid.New(),
	}
}

func TestCreateOrderRetriesTransientFailures(t *testing.T) {
	var attempts int
	var keys []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		var body struct {
			IdempotencyKey string `json:"idempotency_key"`
			Side           string `json:"side"`
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("unparseable order body: %v", err)
		}
		keys = append(keys, body.IdempotencyKey)

		if attempts <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"order_id": "ord-123", "status": "FILLED"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	order := testOrder(t)

	result, err := client.CreateOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	for i, key := range keys {
		if key != order.IdempotencyKey.String() {
			t.Errorf("attempt %d idempotency key = %q, want %q", i+1, key, order.IdempotencyKey)
		}
	}
	if result.OrderID != "ord-123" {
		t.Errorf("order id = %q", result.OrderID)
	}
	if result.Side != "BUY" || result.ProductID != "SOL-USD" {
		t.Errorf("result = %+v", result)
	}
}

func TestCreateOrderDoesNotRetryRejections(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": "insufficient funds"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.CreateOrder(context.Background(), testOrder(t))
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %v, want *RejectedError", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if rejected.StatusCode != http.StatusBadRequest || rejected.Reason != "insufficient funds" {
		t.Errorf("rejected = %+v", rejected)
	}
}

func TestCreateOrderExhaustsRetries(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.CreateOrder(context.Background(), testOrder(t))
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want *UnavailableError", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if unavailable.Attempts != 3 {
		t.Errorf("unavailable.Attempts = %d", unavailable.Attempts)
	}
}

func TestCreateOrderMapsFailureReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"failure_reason": "INVALID_SIZE_PRECISION"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.CreateOrder(context.Background(), testOrder(t))
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %v, want *RejectedError", err)
	}
	if rejected.Reason != "INVALID_SIZE_PRECISION" {
		t.Errorf("reason = %q", rejected.Reason)
	}
}

func TestCreateOrderReadsNestedSuccessResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success_response": map[string]string{"order_id": "ord-nested"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	result, err := client.CreateOrder(context.Background(), testOrder(t))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if result.OrderID != "ord-nested" {
		t.Errorf("order id = %q", result.OrderID)
	}
}

func TestListAccountsParsesBothShapesAndPaginates(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("CB-ACCESS-SIGN") == "" {
			t.Error("request missing signature header")
		}
		switch requests {
		case 1:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"accounts": []map[string]interface{}{
					{"currency": "ABT", "available_balance": map[string]string{"value": "12.5", "currency": "ABT"}},
				},
				"has_next": true,
				"cursor":   "page-2",
			})
		default:
			if r.URL.Query().Get("cursor") != "page-2" {
				t.Errorf("cursor = %q, want page-2", r.URL.Query().Get("cursor"))
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"accounts": []map[string]interface{}{
					{"currency": "USDC", "available": "100.25"},
					{"currency": "ETH", "available_balance": map[string]string{"value": "0.00000000"}},
				},
				"has_next": false,
			})
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	balances, err := client.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
	if len(balances) != 3 {
		t.Fatalf("balances = %d, want 3", len(balances))
	}

	if balances[0].Currency != "ABT" || balances[0].AvailableRaw != "12.5" {
		t.Errorf("balances[0] = %+v", balances[0])
	}
	if balances[1].Currency != "USDC" || balances[1].AvailableRaw != "100.25" {
		t.Errorf("balances[1] = %+v", balances[1])
	}
	if balances[2].Currency != "ETH" || !balances[2].Available.IsZero() {
		t.Errorf("balances[2] = %+v", balances[2])
	}
	if balances[2].AvailableRaw != "0.00000000" {
		t.Errorf("raw balance %q lost the exchange's formatting", balances[2].AvailableRaw)
	}
}
