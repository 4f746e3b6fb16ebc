package web

// errors.go turns service errors into responses.
//
// The technical error is logged with the request id; the client gets the
// core.MapError message and support code, as JSON or, for HTMX requests, as
// an HTML fragment.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/formexport/internal/core"
	"github.com/JonMunkholm/formexport/internal/logging"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// errMissingOwner is returned to reservation requests without an identity.
var errMissingOwner = errors.New("missing request identity")

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var (
		storageErr *core.StorageError
		formatErr  *core.FormatError
	)
	switch {
	case errors.Is(err, errMissingOwner):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyExports), errors.Is(err, core.ErrWorkerClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &storageErr):
		return http.StatusBadGateway
	case errors.As(err, &formatErr):
		return http.StatusInternalServerError
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)
	if errors.Is(err, errMissingOwner) {
		msg = core.UserMessage{
			Message: "The request carries no user identity",
			Action:  "Sign in through the portal and try again",
			Code:    "AUTH_MISSING_USER",
		}
	}

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	if isHTMX(r) {
		renderFragment(w, r, status, errorAlert(msg))
		return
	}
	respondErrorJSON(w, msg, status)
}

func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
