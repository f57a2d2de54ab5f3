package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgellow/mcp-relay/internal/idp"
	"github.com/dgellow/mcp-relay/internal/log"
	"github.com/dgellow/mcp-relay/internal/storage"
)

// ClientGetter is the read side of the client registry
type ClientGetter interface {
	GetClient(ctx context.Context, clientID string) (*storage.Client, error)
}

// AuthorizeRequest is a downstream /authorize request
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	State               string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Relay turns a validated downstream authorize request into the upstream
// authorize URL. The upstream always calls back to the relay's own
// /callback; the downstream redirect_uri only travels inside the state.
type Relay struct {
	clients  ClientGetter
	upstream idp.AuthorizeURLBuilder
	states   *StateCodec
}

func NewRelay(clients ClientGetter, upstream idp.AuthorizeURLBuilder, states *StateCodec) *Relay {
	return &Relay{clients: clients, upstream: upstream, states: states}
}

func (r *Relay) AuthorizeURL(ctx context.Context, req AuthorizeRequest) (string, error) {
	if req.ClientID == "" {
		return "", fmt.Errorf("%w: client_id", ErrMissingParameter)
	}
	if req.RedirectURI == "" {
		return "", fmt.Errorf("%w: redirect_uri", ErrMissingParameter)
	}

	if _, err := r.clients.GetClient(ctx, req.ClientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownClient, req.ClientID)
		}
		return "", fmt.Errorf("looking up client: %w", err)
	}

	state, err := r.states.Encode(RelayState{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}

	log.LogDebugWithFields("oauth", "Relaying authorize request upstream", map[string]any{
		"client_id":    req.ClientID,
		"redirect_uri": req.RedirectURI,
		"pkce":         req.CodeChallenge != "",
	})

	return r.upstream.AuthorizeURL(state, req.Scope), nil
}
