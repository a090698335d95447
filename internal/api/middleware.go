package api

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
)

// WithMethod is a middleware that checks if the endpoint was called using a
// specific HTTP method and rejects it otherwise.
func WithMethod(next http.HandlerFunc, method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: errMethodNotAllowed.Message})
			return
		}

		next.ServeHTTP(w, r)
	}
}

// WithJSONResponse wraps an APIHandler and handles JSON response formatting
func WithJSONResponse(handler APIHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := handler(w, r)
		if err != nil {
			apiErr := toAPIError(err)

			var plain *APIError
			if apiErr.Status >= http.StatusInternalServerError && !stderrors.As(err, &plain) {
				slog.Error("API error", "path", r.URL.Path, "error", err)
			} else {
				slog.Debug("API error", "path", r.URL.Path, "error", err)
			}

			writeJSON(w, apiErr.Status, ErrorResponse{Error: apiErr.Message})
			return
		}

		writeJSON(w, http.StatusOK, data)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		status = http.StatusInternalServerError
		data = []byte(`{"error":"Failed to encode response"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}
