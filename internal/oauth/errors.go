package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dgellow/mcp-relay/internal/log"
)

type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "invalid_request"
	ErrInvalidClient        ErrorCode = "invalid_client"
	ErrInvalidGrant         ErrorCode = "invalid_grant"
	ErrInvalidToken         ErrorCode = "invalid_token"
	ErrServerError          ErrorCode = "server_error"
	ErrUnsupportedGrantType ErrorCode = "unsupported_grant_type"
)

var (
	ErrMalformedRequest = errors.New("malformed registration request")
	ErrMissingParameter = errors.New("missing required parameter")
	ErrUnknownClient    = errors.New("unknown client")
	ErrMalformedState   = errors.New("malformed state")
	ErrInvalidCode      = errors.New("invalid authorization code")
	ErrCodeExpired      = errors.New("authorization code expired")
	ErrCodeMismatch     = errors.New("authorization code binding mismatch")
	ErrCodeReused       = errors.New("authorization code already redeemed")
)

type OAuthError struct {
	Code        ErrorCode `json:"error"`
	Description string    `json:"error_description,omitempty"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return string(e.Code)
}

func NewOAuthError(code ErrorCode, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description}
}

func WriteTokenError(w http.ResponseWriter, status int, oauthErr *OAuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(oauthErr); err != nil {
		log.LogError("Failed to encode OAuth error response: %v", err)
	}
}
