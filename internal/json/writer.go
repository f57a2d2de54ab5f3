package json

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dgellow/mcp-relay/internal/log"
)

// ErrorResponse is the body of a machine-facing error
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteResponse writes data as JSON with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes data as JSON with 200 OK
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteNoStore writes data as JSON and marks it uncacheable
func WriteNoStore(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	return WriteResponse(w, statusCode, data)
}

// WriteError writes an error body with an OAuth-style error code
func WriteError(w http.ResponseWriter, statusCode int, code, description string) {
	resp := ErrorResponse{Error: code, ErrorDescription: description}
	if err := WriteResponse(w, statusCode, resp); err != nil {
		http.Error(w, code, statusCode)
	}
}

// WriteBearerChallenge writes a 401 carrying a Bearer challenge.
//
// An empty code produces the bare "Bearer" challenge used when no credentials
// were presented (RFC 6750 section 3.1). A non-empty code is added as the
// error attribute and echoed in the body. resourceMetadata, when set, is
// advertised as in RFC 9728 section 5.1.
func WriteBearerChallenge(w http.ResponseWriter, code, resourceMetadata string) {
	var attrs []string
	if code != "" {
		attrs = append(attrs, fmt.Sprintf(`error="%s"`, escapeQuotedString(code)))
	}
	if resourceMetadata != "" {
		attrs = append(attrs, fmt.Sprintf(`resource_metadata="%s"`, escapeQuotedString(resourceMetadata)))
	}

	challenge := "Bearer"
	if len(attrs) > 0 {
		challenge += " " + strings.Join(attrs, ", ")
	}
	w.Header().Set("WWW-Authenticate", challenge)

	if code == "" {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
		return
	}
	WriteError(w, http.StatusUnauthorized, code, "")
}

// escapeQuotedString escapes backslash and double quote for an RFC 9110 quoted-string
func escapeQuotedString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func WriteBadRequest(w http.ResponseWriter, description string) {
	WriteError(w, http.StatusBadRequest, "invalid_request", description)
}

func WriteInternalServerError(w http.ResponseWriter, description string) {
	WriteError(w, http.StatusInternalServerError, "server_error", description)
}

func WriteNotFound(w http.ResponseWriter, description string) {
	WriteError(w, http.StatusNotFound, "not_found", description)
}
