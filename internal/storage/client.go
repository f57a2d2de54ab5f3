package storage

import (
	"strings"
	"time"

	"github.com/ory/fosite"
)

var _ fosite.Client = (*Client)(nil)

// Client is a dynamically registered downstream client. Registration fields
// fosite already models live in the embedded DefaultClient.
type Client struct {
	fosite.DefaultClient
	Name                    string `json:"client_name"`
	Scope                   string `json:"scope"`
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`
	CreatedAt               int64  `json:"created_at"`
}

// NewPublicClient builds a client that authenticates with no secret
func NewPublicClient(clientID, name, scope string, redirectURIs, grantTypes, responseTypes []string, createdAt time.Time) *Client {
	return &Client{
		DefaultClient: fosite.DefaultClient{
			ID:            clientID,
			RedirectURIs:  redirectURIs,
			GrantTypes:    grantTypes,
			ResponseTypes: responseTypes,
			Scopes:        strings.Fields(scope),
			Public:        true,
		},
		Name:                    name,
		Scope:                   scope,
		TokenEndpointAuthMethod: "none",
		CreatedAt:               createdAt.Unix(),
	}
}
