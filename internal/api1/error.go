package api1

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/agentic-research/mache/internal/api1/apierr"
)

// invalidf is a package-local shorthand for apierr.Invalidf, used by every
// handler that needs to reject a malformed request directly.
func invalidf(format string, args ...any) error {
	return apierr.Invalidf(format, args...)
}

// errorBody is the wire shape of every non-2xx response: {"code", "message"}.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeError translates err through apierr.Translate and writes the
// matching status/body, logging the full error for the Other bucket since
// that message is not necessarily safe to show a caller.
func writeError(w http.ResponseWriter, err error) {
	apiErr := apierr.Translate(err)
	if apiErr.Kind == apierr.Other {
		log.Printf("api1: internal error: %v", apiErr.Cause)
	}
	writeJSON(w, apiErr.Kind.Status(), errorBody{Code: apiErr.Kind.Status(), Message: apiErr.Message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("api1: marshal response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
