package auth

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rhuss/httpauth/pkg/observability"
	"github.com/rhuss/httpauth/pkg/transport"
)

// ErrorHandler writes the body of a failed authentication response. It may
// set its own status code and headers, including WWW-Authenticate.
type ErrorHandler func(w http.ResponseWriter, r *http.Request)

// DefaultErrorHandler writes a generic JSON error body.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transport.ErrorResponse{Error: &transport.APIError{
		Type:    transport.ErrorTypeUnauthorized,
		Message: "authentication required",
	}})
}

// Responder turns a failed decision into a 401 challenge response.
type Responder struct {
	handler ErrorHandler
}

// NewResponder creates a Responder. A nil handler uses DefaultErrorHandler.
func NewResponder(handler ErrorHandler) Responder {
	if handler == nil {
		handler = DefaultErrorHandler
	}
	return Responder{handler: handler}
}

// Respond runs the error handler, then fills in what it left unset: the
// status defaults to 401 and WWW-Authenticate to authn's challenge.
func (rs Responder) Respond(w http.ResponseWriter, r *http.Request, authn Authenticator) {
	handler := rs.handler
	if handler == nil {
		handler = DefaultErrorHandler
	}

	buf := &bufferedResponse{header: make(http.Header)}
	handler(buf, r)

	status := buf.status
	if status == 0 || status == http.StatusOK {
		status = http.StatusUnauthorized
	}

	if buf.header.Get("WWW-Authenticate") == "" {
		challenge, err := authn.Challenge(r.Context(), r)
		if err != nil {
			slog.Error("building authentication challenge failed",
				"scheme", authn.Scheme(),
				"path", r.URL.Path,
				"error", err,
			)
			transport.WriteError(w, http.StatusInternalServerError, "internal authentication error")
			return
		}
		buf.header.Set("WWW-Authenticate", challenge)
		observability.ChallengesTotal.WithLabelValues(authn.Scheme()).Inc()
	}

	dst := w.Header()
	for k, v := range buf.header {
		dst[k] = v
	}
	w.WriteHeader(status)
	w.Write(buf.body.Bytes())
}

// bufferedResponse captures what an ErrorHandler writes so defaults can be
// applied before anything reaches the client.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	return b.body.Write(p)
}
