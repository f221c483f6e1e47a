package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the JSON envelope of every non-object endpoint.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Last resort; may not succeed once the header is out.
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func okResponse(data interface{}) Response {
	return Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data}
}

func errorResponse(errMsg string) Response {
	return Response{Status: "error", Timestamp: time.Now().UTC(), Error: errMsg}
}

func healthyResponse(data interface{}) Response {
	return Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(errMsg string) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: errMsg}
}
