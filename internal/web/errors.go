package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is:
//   - Logged with full technical details and the request id (server-side)
//   - Mapped via core.MapError to a message, action and support code
//   - Returned as JSON to API clients, or stored as a flash message and
//     redirected back to the page for browser form posts, where it renders
//     through the ErrorAlert component

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/sheetgate/internal/core"
	"github.com/JonMunkholm/sheetgate/internal/logging"
	"github.com/JonMunkholm/sheetgate/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
}

func newErrorResponse(err error) ErrorResponse {
	msg := core.MapError(err)
	return ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Kind:    string(core.KindOf(err)),
	}
}

// respondError logs err and answers in the format the client expects.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, sess *session, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	switch {
	case wantsJSON(r):
		writeJSON(w, status, newErrorResponse(err))
	case sess != nil:
		sess.setFlash(userMsg)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		renderErrorAlert(w, r, userMsg, status)
	}
}

// renderErrorAlert writes the error as an HTML fragment for browser requests
// that have no page to return to.
func renderErrorAlert(w http.ResponseWriter, r *http.Request, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render error alert", "error", err)
	}
}

// statusFor maps workflow and service failures onto HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}

	switch core.KindOf(err) {
	case core.KindMissingInput:
		return http.StatusBadRequest
	case core.KindRejected:
		return http.StatusUnprocessableEntity
	case core.KindServiceFault, core.KindUnreachable:
		return http.StatusBadGateway
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	case core.KindCancelled:
		return http.StatusConflict
	}

	switch {
	case errors.Is(err, core.ErrUnknownDataset), errors.Is(err, core.ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrReportInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrBusy), errors.Is(err, core.ErrNoReport),
		errors.Is(err, core.ErrSelectorLocked), errors.Is(err, core.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, errNoFile), errors.Is(err, errBadForm):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// wantsJSON reports whether the client is an API client rather than a
// browser submitting the page's forms.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return true
	}
	if strings.Contains(accept, "text/html") {
		return false
	}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		return false
	}
	return true
}
