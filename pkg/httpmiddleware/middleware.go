// Package httpmiddleware holds the net/http middleware of the API server:
// panic recovery, request ids, request-scoped logging, CORS, rate limiting
// and Prometheus request metrics.
package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// Middleware decorates an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies mws to h. The first middleware is the outermost one.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Error is the JSON error body returned by the API and its middleware.
type Error struct {
	Status  int
	Kind    string
	Message string
	// Field names the offending request field, if any.
	Field string
	// Details appends extra fields to the error object.
	Details func(e *jx.Encoder)
}

// WriteError writes e as {"code", "kind", "message", "field", ...details}.
func WriteError(w http.ResponseWriter, e Error) {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("code")
	enc.Int(e.Status)
	enc.FieldStart("kind")
	enc.Str(e.Kind)
	enc.FieldStart("message")
	enc.Str(e.Message)
	if e.Field != "" {
		enc.FieldStart("field")
		enc.Str(e.Field)
	}
	if e.Details != nil {
		e.Details(&enc)
	}
	enc.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_, _ = w.Write(enc.Bytes())
}

// RoutePattern returns the chi route pattern that matched r, or "unmatched".
// It is only complete after the router has served the request.
func RoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return "unmatched"
}

// statusWriter records the status code and body size written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
