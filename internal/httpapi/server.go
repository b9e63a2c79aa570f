// Package httpapi exposes the order and payment lifecycle over HTTP.
//
// Routes mirror the aggregates: /orders and /payments for single-aggregate
// operations, /checkout for the combined workflow, and
// /payments/webhook/stripe for processor notifications when a webhook
// secret is configured. Errors are rendered as {"error": "..."}.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/dshills/audira-commerce/internal/checkout"
	"github.com/dshills/audira-commerce/internal/logkey"
	"github.com/dshills/audira-commerce/internal/orders"
	"github.com/dshills/audira-commerce/internal/payments"
)

const (
	// RequestTimeout bounds every request, including the gateway call during checkout
	RequestTimeout = 30 * time.Second

	// maxWebhookBytes caps webhook payloads read for signature verification
	maxWebhookBytes = 64 << 10
)

// Config wires the handlers to the services
type Config struct {
	Orders        *orders.Service
	Payments      *payments.Service
	Coordinator   *checkout.Coordinator
	WebhookSecret string // Stripe endpoint secret; the webhook route is disabled when empty
	Logger        *slog.Logger
}

// Server holds the HTTP handlers
type Server struct {
	orders        *orders.Service
	payments      *payments.Service
	coordinator   *checkout.Coordinator
	webhookSecret string
	logger        *slog.Logger
}

// NewServer creates a server from cfg
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orders:        cfg.Orders,
		payments:      cfg.Payments,
		coordinator:   cfg.Coordinator,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Post("/checkout", s.checkout)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", s.createOrder)
		r.Get("/", s.listOrders)
		r.Get("/order-number/{orderNumber}", s.getOrderByNumber)
		r.Get("/user/{userId}", s.listOrdersByUser)
		r.Get("/user/{userId}/status/{status}", s.listOrdersByUserAndStatus)
		r.Get("/status/{status}", s.listOrdersByStatus)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getOrder)
			r.Delete("/", s.deleteOrder)
			r.Put("/status", s.updateOrderStatus)
			r.Post("/cancel", s.cancelOrder)
			r.Post("/pay", s.payOrder)
		})
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", s.createPayment)
		r.Get("/order/{orderId}", s.currentPaymentForOrder)
		r.Get("/order/{orderId}/all", s.listPaymentsByOrder)
		r.Get("/user/{userId}", s.listPaymentsByUser)
		r.Get("/status/{status}", s.listPaymentsByStatus)
		r.Get("/transaction/{transactionId}", s.getPaymentByTransaction)
		if s.webhookSecret != "" {
			r.Post("/webhook/stripe", s.stripeWebhook)
		}
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getPayment)
			r.Post("/process", s.processPayment)
			r.Post("/complete", s.completePayment)
			r.Post("/fail", s.failPayment)
			r.Post("/refund", s.refundPayment)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
			slog.String(logkey.RequestID, middleware.GetReqID(r.Context())),
			slog.String(logkey.Method, r.Method),
			slog.String(logkey.Path, r.URL.Path),
			slog.Int(logkey.Code, ww.Status()),
			slog.Duration(logkey.Duration, time.Since(start)))
	})
}
