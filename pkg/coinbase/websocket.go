package coinbase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const DefaultWebSocketURL = "wss://advanced-trade-ws.coinbase.com"

// TokenProvider mints a short-lived bearer token for websocket
// subscriptions. JWTAuthenticator satisfies it; the HMAC scheme has no
// websocket credential, so the watcher is unavailable under hmac auth.
type TokenProvider interface {
	Token() (string, error)
}

// UserEventWatcher tails the user channel and logs order lifecycle events
// (fills, cancels). It keeps no state: the exchange account stays the
// single source of truth, this is observability only.
type UserEventWatcher struct {
	url            string
	tokens         TokenProvider
	logger         *logrus.Logger
	reconnectDelay time.Duration
	maxReconnects  int
}

func NewUserEventWatcher(url string, tokens TokenProvider, reconnectDelay time.Duration, maxReconnects int, logger *logrus.Logger) *UserEventWatcher {
	if url == "" {
		url = DefaultWebSocketURL
	}
	return &UserEventWatcher{
		url:            url,
		tokens:         tokens,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		maxReconnects:  maxReconnects,
	}
}

type wsSubscribeMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	JWT     string `json:"jwt"`
}

type wsUserMessage struct {
	Channel string `json:"channel"`
	Events  []struct {
		Type   string `json:"type"`
		Orders []struct {
			OrderID   string `json:"order_id"`
			ProductID string `json:"product_id"`
			Status    string `json:"status"`
			OrderSide string `json:"order_side"`
		} `json:"orders"`
	} `json:"events"`
}

// Run connects, subscribes, and logs until ctx is done or the reconnect
// budget is spent.
func (w *UserEventWatcher) Run(ctx context.Context) {
	reconnects := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.watchOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Warn("User event feed disconnected")
		}
		if ctx.Err() != nil {
			return
		}

		reconnects++
		if w.maxReconnects > 0 && reconnects > w.maxReconnects {
			w.logger.Error("User event feed gave up reconnecting")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.reconnectDelay):
		}
	}
}

func (w *UserEventWatcher) watchOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	token, err := w.tokens.Token()
	if err != nil {
		return err
	}
	sub := wsSubscribeMessage{Type: "subscribe", Channel: "user", JWT: token}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	w.logger.Info("Subscribed to user event feed")

	// Unblock ReadMessage when the caller shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg wsUserMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Channel != "user" {
			continue
		}
		for _, event := range msg.Events {
			for _, order := range event.Orders {
				w.logger.WithFields(logrus.Fields{
					"order_id":   order.OrderID,
					"product_id": order.ProductID,
					"status":     order.Status,
					"side":       order.OrderSide,
					"event":      event.Type,
				}).Info("Order update")
			}
		}
	}
}
