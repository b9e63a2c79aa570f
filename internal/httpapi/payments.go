package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dshills/audira-commerce/internal/checkout"
	"github.com/dshills/audira-commerce/internal/gateway"
	"github.com/dshills/audira-commerce/internal/logkey"
	"github.com/dshills/audira-commerce/internal/payments"
	"github.com/dshills/audira-commerce/pkg/types"
)

type processRequest struct {
	TransactionID string `json:"transactionId"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

// createPayment accepts orderId, userId, amount and paymentMethod either as
// query parameters or as a JSON body.
func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	req, err := paymentRequestFrom(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payment, err := s.payments.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, payment)
}

func paymentRequestFrom(r *http.Request) (payments.CreatePaymentRequest, error) {
	var req payments.CreatePaymentRequest
	q := r.URL.Query()
	if q.Get("orderId") == "" {
		if err := decodeBody(r, &req, false); err != nil {
			return req, err
		}
	} else {
		var err error
		if req.OrderID, err = queryID(r, "orderId"); err != nil {
			return req, err
		}
		if req.UserID, err = queryID(r, "userId"); err != nil {
			return req, err
		}
		if req.Amount, err = types.ParseAmount(q.Get("amount")); err != nil {
			return req, err
		}
		req.Method = types.PaymentMethod(q.Get("paymentMethod"))
	}
	if req.OrderID <= 0 {
		return req, fmt.Errorf("%w: orderId must be > 0", types.ErrInvalidInput)
	}
	return req, nil
}

func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payment, err := s.payments.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, payment)
}

func (s *Server) getPaymentByTransaction(w http.ResponseWriter, r *http.Request) {
	payment, err := s.payments.GetByTransactionID(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, payment)
}

func (s *Server) currentPaymentForOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := idParam(r, "orderId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payment, err := s.payments.CurrentForOrder(r.Context(), orderID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, payment)
}

func (s *Server) listPaymentsByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := idParam(r, "orderId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.payments.ListByOrder(r.Context(), orderID)
	s.respondPayments(w, r, list, err)
}

func (s *Server) listPaymentsByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r, "userId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.payments.ListByUser(r.Context(), userID)
	s.respondPayments(w, r, list, err)
}

func (s *Server) listPaymentsByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := types.ParsePaymentStatus(chi.URLParam(r, "status"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.payments.ListByStatus(r.Context(), status)
	s.respondPayments(w, r, list, err)
}

func (s *Server) respondPayments(w http.ResponseWriter, r *http.Request, list []*types.Payment, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*types.Payment{}
	}
	s.respond(w, r, http.StatusOK, list)
}

func (s *Server) processPayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req := processRequest{TransactionID: r.URL.Query().Get("transactionId")}
	if req.TransactionID == "" {
		if err := decodeBody(r, &req, true); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	payment, err := s.coordinator.ProcessPayment(r.Context(), id, req.TransactionID)
	if err != nil {
		s.renderError(w, r, err, errorResponse{Payment: payment})
		return
	}
	s.respond(w, r, http.StatusOK, payment)
}

func (s *Server) completePayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payment, err := s.coordinator.CompletePayment(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err, errorResponse{Payment: payment})
		return
	}
	s.respond(w, r, http.StatusOK, payment)
}

func (s *Server) failPayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req := failRequest{Reason: r.URL.Query().Get("reason")}
	if req.Reason == "" {
		if err := decodeBody(r, &req, true); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	payment, err := s.payments.Fail(r.Context(), id, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, payment)
}

func (s *Server) refundPayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payment, err := s.payments.Refund(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err, errorResponse{Payment: payment})
		return
	}
	s.respond(w, r, http.StatusOK, payment)
}

// checkout creates an order and pays for it. A repeated Idempotency-Key
// returns the first outcome with 200 instead of 201.
func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkout.CheckoutRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	result, err := s.coordinator.Checkout(r.Context(), req)
	if err != nil {
		s.renderError(w, r, err, resultBody(result))
		return
	}
	code := http.StatusCreated
	if result.Replayed {
		code = http.StatusOK
	}
	s.respond(w, r, code, result)
}

func resultBody(result *checkout.CheckoutResult) errorResponse {
	if result == nil {
		return errorResponse{}
	}
	return errorResponse{Order: result.Order, Payment: result.Payment}
}

// stripeWebhook verifies and applies a Stripe PaymentIntent event.
// Events for unknown payments are acknowledged so Stripe stops redelivering them.
func (s *Server) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: unreadable webhook payload: %v", types.ErrInvalidInput, err))
		return
	}

	ev, err := gateway.ParseStripeWebhook(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", types.ErrInvalidInput, err))
		return
	}

	payment, err := s.coordinator.HandleGatewayEvent(r.Context(), ev)
	switch {
	case errors.Is(err, types.ErrNotFound):
		s.logger.WarnContext(r.Context(), "webhook for unknown payment",
			slog.String(logkey.Event, ev.Type),
			slog.String(logkey.Reference, ev.Reference))
	case err != nil:
		s.fail(w, r, err)
		return
	}

	resp := map[string]interface{}{"received": true, "outcome": ev.Outcome}
	if payment != nil {
		resp["payment"] = payment
	}
	s.respond(w, r, http.StatusOK, resp)
}
