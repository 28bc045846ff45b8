package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rendis/flowcanvas/pkg/schema"
)

// maxBody caps request bodies; scenarios are the largest payload.
const maxBody = 4 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCanvasError maps a CanvasError code onto an HTTP status and writes it
// with its code and details. Other errors are 500s.
func writeCanvasError(w http.ResponseWriter, err error) {
	var ce *schema.CanvasError
	if !errors.As(err, &ce) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body := map[string]any{"error": ce.Message, "code": ce.Code}
	if ce.NodeID != "" {
		body["node_id"] = ce.NodeID
	}
	if len(ce.Details) > 0 {
		body["details"] = ce.Details
	}
	writeJSON(w, statusFor(ce.Code), body)
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeSessionActive, schema.ErrCodeInvalidTransition, schema.ErrCodeNoSession:
		return http.StatusConflict
	case schema.ErrCodeCancelled:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
