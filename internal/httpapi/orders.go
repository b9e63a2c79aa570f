package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dshills/audira-commerce/internal/orders"
	"github.com/dshills/audira-commerce/pkg/types"
)

type updateStatusRequest struct {
	Status string `json:"status"`
}

type payOrderRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.orders.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, order)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.orders.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, order)
}

func (s *Server) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetByNumber(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, order)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.orders.List(r.Context())
	s.respondList(w, r, list, err)
}

func (s *Server) listOrdersByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r, "userId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.orders.ListByUser(r.Context(), userID)
	s.respondList(w, r, list, err)
}

func (s *Server) listOrdersByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := types.ParseOrderStatus(chi.URLParam(r, "status"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.orders.ListByStatus(r.Context(), status)
	s.respondList(w, r, list, err)
}

func (s *Server) listOrdersByUserAndStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r, "userId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status, err := types.ParseOrderStatus(chi.URLParam(r, "status"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.orders.ListByUserAndStatus(r.Context(), userID, status)
	s.respondList(w, r, list, err)
}

func (s *Server) respondList(w http.ResponseWriter, r *http.Request, list []*types.Order, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*types.Order{}
	}
	s.respond(w, r, http.StatusOK, list)
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req updateStatusRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	target, err := types.ParseOrderStatus(req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.coordinator.UpdateOrderStatus(r.Context(), id, target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, order)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.coordinator.CancelOrder(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, order)
}

func (s *Server) payOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req payOrderRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	method, err := types.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.coordinator.PayOrder(r.Context(), id, method)
	if err != nil {
		s.renderError(w, r, err, resultBody(result))
		return
	}
	s.respond(w, r, http.StatusCreated, result)
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.orders.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
