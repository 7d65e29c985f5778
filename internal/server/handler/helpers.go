package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// errorBody is the wire shape for every error response: a stable kind for
// programmatic handling plus human-readable detail.
type errorBody struct {
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":{"kind":"internal","detail":"internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps a domain error onto the HTTP status and error envelope.
// The kind-to-status mapping lives here and nowhere else.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindNotInitialized:
		status = http.StatusConflict
	case domain.KindInvalidRequest:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindChainRejected:
		status = http.StatusUnprocessableEntity
	case domain.KindChainTransient:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorBody{Error: errorInfo{Kind: string(kind), Detail: err.Error()}})
}

// writeInvalid reports a request-shape problem caught in the handler itself.
func writeInvalid(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorInfo{
		Kind:   string(domain.KindInvalidRequest),
		Detail: detail,
	}})
}

// queryInt extracts an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// queryBool extracts a boolean query parameter with a default.
func queryBool(r *http.Request, name string, def bool) bool {
	if v := r.URL.Query().Get(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
