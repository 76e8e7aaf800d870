package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := errors.GetStatusCode(err)
	body := errorBody{
		Type:      "internal",
		Message:   "internal server error",
		RequestID: RequestIDFromContext(r.Context()),
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		body.Type = string(appErr.Type)
		body.Code = appErr.Code
		body.Message = appErr.Message
	}

	if status >= 500 {
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", body.RequestID),
			zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func decodeJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return errors.NewValidationError("INVALID_BODY", "request body is not valid JSON").WithCause(err)
	}
	return nil
}
