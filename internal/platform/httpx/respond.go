// Package httpx provides the JSON response envelope consumed by the browser
// presenter: {"success":true, ...payload} on success, {"error":"..."} on
// failure. HTTP status codes are set but the body is authoritative.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Success sends a JSON envelope with success=true merged over the payload.
func Success(w http.ResponseWriter, status int, payload map[string]any) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["success"] = true
	write(w, status, body)
}

// Error sends the failure envelope.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, map[string]any{"error": message})
}

// DecodeJSON decodes a JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
