package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	domainerrors "bookshelf/internal/errors"
)

// Envelope is the body of every JSON response
type Envelope struct {
	Success bool                `json:"success"`
	Data    any                 `json:"data,omitempty"`
	Error   *domainerrors.Error `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(Envelope{Success: status < 400, Data: data}); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeError maps a domain error kind onto its HTTP status. Unknown errors are
// logged and reported as internal without their message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *domainerrors.Error
	if !domainerrors.As(err, &domainErr) {
		s.logger.Error("Unhandled error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		domainErr = domainerrors.ErrInternal
	}

	status := domainErr.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Warn("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body := Envelope{Error: &domainerrors.Error{
		Code:    domainErr.Code,
		Message: domainErr.Message,
		Details: domainErr.Details,
	}}
	if encodeErr := json.NewEncoder(w).Encode(body); encodeErr != nil {
		s.logger.Error("Failed to encode error response", zap.Error(encodeErr))
	}
}

// decodeJSON reads a JSON request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domainerrors.Validation("invalid request body").WithCause(err)
	}
	return nil
}
