package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response. errorType is a stable
// machine-readable token clients can branch on; it may be empty.
func WriteError(w http.ResponseWriter, statusCode int, errorType, message string) error {
	body := map[string]string{
		"status": "error",
		"error":  message,
	}
	if errorType != "" {
		body["errorType"] = errorType
	}
	return WriteJSON(w, statusCode, body)
}

// PathSegment returns the idx-th path segment after the prefix, or "".
// PathSegment("/api/emissions/em_1/rows", "/api/emissions/", 0) == "em_1".
func PathSegment(path, prefix string, idx int) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
	segments := strings.Split(rest, "/")
	if idx >= len(segments) {
		return ""
	}
	return segments[idx]
}
