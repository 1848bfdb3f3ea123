package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gregtusar/signalbridge/pkg/coinbase"
	"github.com/gregtusar/signalbridge/pkg/models"
	"github.com/gregtusar/signalbridge/pkg/trader"
)

const maxWebhookBody = 1 << 20

type Server struct {
	normalizer *trader.SignalNormalizer
	executor   *trader.OrderExecutor
	limiter    *rate.Limiter
	logger     *logrus.Logger
	port       string
}

func NewServer(normalizer *trader.SignalNormalizer, executor *trader.OrderExecutor, rateLimitRPS float64, logger *logrus.Logger, port string) *Server {
	burst := int(rateLimitRPS)
	if burst < 1 {
		burst = 1
	}
	return &Server{
		normalizer: normalizer,
		executor:   executor,
		limiter:    rate.NewLimiter(rate.Limit(rateLimitRPS), burst),
		logger:     logger,
		port:       port,
	}
}

// Handler builds the route table. Exposed separately from Start for
// httptest use.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/", s.handleHome)

	return corsMiddleware(mux)
}

func (s *Server) Start() error {
	s.logger.Infof("Starting webhook server on port %s", s.port)
	return http.ListenAndServe(":"+s.port, s.Handler())
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow() {
		s.writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable request body"})
		return
	}

	intent, err := s.normalizer.Normalize(payload)
	if err != nil {
		var invalid *trader.InvalidSignalError
		if errors.As(err, &invalid) {
			s.logger.WithField("reason", invalid.Reason).Info("Rejected webhook payload")
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": invalid.Reason})
			return
		}
		s.logger.WithError(err).Error("Failed to normalize webhook")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	if intent.Kind == models.IntentIgnored {
		s.logger.WithField("signal", intent.Signal).Info("Ignoring unrecognized signal")
		s.writeJSON(w, http.StatusOK, map[string]bool{"ignored": true})
		return
	}

	result, err := s.executor.Execute(r.Context(), intent)
	if err != nil {
		s.writeExecutionError(w, intent, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"signal":     intent.Signal,
		"product_id": result.ProductID,
		"order_id":   result.OrderID,
		"status":     result.Status,
	}).Info("Webhook handled")
	s.writeJSON(w, http.StatusOK, result)
}

// writeExecutionError maps pipeline failures to HTTP statuses. Rejections
// carry the exchange's business message; everything else is redacted so
// no credential or internal detail leaks to the webhook source.
func (s *Server) writeExecutionError(w http.ResponseWriter, intent models.TradingIntent, err error) {
	log := s.logger.WithError(err).WithFields(logrus.Fields{
		"signal":     intent.Signal,
		"product_id": intent.Pair.ProductID(),
	})

	var rejected *coinbase.RejectedError
	if errors.As(err, &rejected) {
		log.Warn("Exchange rejected order")
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": rejected.Reason})
		return
	}

	var unavailable *coinbase.UnavailableError
	if errors.As(err, &unavailable) {
		log.Error("Exchange unavailable")
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": fmt.Sprintf("exchange unavailable after %d attempts", unavailable.Attempts),
		})
		return
	}

	log.Error("Order execution failed")
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "signalbridge webhook trader is running.")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
