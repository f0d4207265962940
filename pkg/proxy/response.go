package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/polisai/collection-proxy/pkg/domain"
)

const contentTypeJSON = "application/json; charset=utf-8"

var internalErrorEnvelope = domain.ErrorEnvelope{Error: "Internal server error"}

// writeJSON encodes v and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(internalErrorEnvelope)
	}
	writeRawJSON(w, status, body)
}

// writeRawJSON writes an already-encoded JSON document.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
