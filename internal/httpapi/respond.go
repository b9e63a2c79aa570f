package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/dshills/audira-commerce/internal/logkey"
	"github.com/dshills/audira-commerce/pkg/types"
)

// errorResponse is the body of every failed request.
// Gateway failures carry the records they left behind.
type errorResponse struct {
	Error   string         `json:"error"`
	Order   *types.Order   `json:"order,omitempty"`
	Payment *types.Payment `json:"payment,omitempty"`
}

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrInvalidState),
		errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error, body errorResponse) {
	code := statusFor(err)
	body.Error = err.Error()
	if code == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", slog.Any(logkey.Error, err))
		body.Error = http.StatusText(code)
	}
	render.Status(r, code)
	render.JSON(w, r, body)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.renderError(w, r, err, errorResponse{})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	render.Status(r, code)
	render.JSON(w, r, v)
}

// idParam parses a positive integer path parameter
func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", types.ErrInvalidInput, name, raw)
	}
	return id, nil
}

// queryID parses an optional positive integer query parameter; absent yields 0
func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", types.ErrInvalidInput, name, raw)
	}
	return id, nil
}

// decodeBody decodes a JSON request body into v. An empty body leaves v untouched
// when optional is set.
func decodeBody(r *http.Request, v interface{}, optional bool) error {
	if r.Body == nil || r.ContentLength == 0 {
		if optional {
			return nil
		}
		return fmt.Errorf("%w: request body is required", types.ErrInvalidInput)
	}
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", types.ErrInvalidInput, err)
	}
	return nil
}
