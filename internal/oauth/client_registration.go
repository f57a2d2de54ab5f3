package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgellow/mcp-relay/internal/crypto"
	"github.com/dgellow/mcp-relay/internal/log"
	"github.com/dgellow/mcp-relay/internal/storage"
)

const (
	DefaultClientName = "MCP Client"
	DefaultScope      = "openid profile email"
)

// ClientRegistration is a parsed RFC 7591 registration request with
// defaults applied to absent fields
type ClientRegistration struct {
	RedirectURIs  []string
	ClientName    string
	Scope         string
	GrantTypes    []string
	ResponseTypes []string
}

type registrationRequest struct {
	RedirectURIs  []string `json:"redirect_uris"`
	ClientName    *string  `json:"client_name"`
	Scope         *string  `json:"scope"`
	GrantTypes    []string `json:"grant_types"`
	ResponseTypes []string `json:"response_types"`
}

// ParseClientRegistration parses a registration body. An empty body is
// treated as {}. Every client is public; a requested
// token_endpoint_auth_method is ignored.
func ParseClientRegistration(body []byte) (*ClientRegistration, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}

	var req registrationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	reg := &ClientRegistration{
		RedirectURIs:  []string{},
		ClientName:    DefaultClientName,
		Scope:         DefaultScope,
		GrantTypes:    []string{"authorization_code"},
		ResponseTypes: []string{"code"},
	}
	if req.RedirectURIs != nil {
		reg.RedirectURIs = req.RedirectURIs
	}
	if req.ClientName != nil && strings.TrimSpace(*req.ClientName) != "" {
		reg.ClientName = *req.ClientName
	}
	if req.Scope != nil && strings.TrimSpace(*req.Scope) != "" {
		reg.Scope = strings.Join(strings.Fields(*req.Scope), " ")
	}
	if len(req.GrantTypes) > 0 {
		reg.GrantTypes = req.GrantTypes
	}
	if len(req.ResponseTypes) > 0 {
		reg.ResponseTypes = req.ResponseTypes
	}
	return reg, nil
}

// ClientCreator is the write side of the client registry
type ClientCreator interface {
	CreateClient(ctx context.Context, client *storage.Client) error
}

// RegisterClient parses a registration body and stores a new public client
// under a freshly generated id. Identical requests always produce distinct
// clients.
func RegisterClient(ctx context.Context, registry ClientCreator, body []byte, now time.Time) (*storage.Client, error) {
	reg, err := ParseClientRegistration(body)
	if err != nil {
		return nil, err
	}

	clientID, err := crypto.GenerateClientID(now)
	if err != nil {
		return nil, fmt.Errorf("generating client id: %w", err)
	}

	client := storage.NewPublicClient(clientID, reg.ClientName, reg.Scope, reg.RedirectURIs, reg.GrantTypes, reg.ResponseTypes, now)
	if err := registry.CreateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("storing client: %w", err)
	}

	log.LogInfoWithFields("oauth", "Registered client", map[string]any{
		"client_id":     clientID,
		"client_name":   reg.ClientName,
		"redirect_uris": reg.RedirectURIs,
	})
	return client, nil
}
