package oauth

import (
	"github.com/dgellow/mcp-relay/internal/storage"
	"github.com/dgellow/mcp-relay/internal/urlutil"
)

// AuthorizationServerMetadata builds OAuth 2.0 Authorization Server Metadata per RFC 8414
// https://datatracker.ietf.org/doc/html/rfc8414
func AuthorizationServerMetadata(issuer string) (map[string]any, error) {
	authzEndpoint, err := urlutil.JoinPath(issuer, "authorize")
	if err != nil {
		return nil, err
	}

	tokenEndpoint, err := urlutil.JoinPath(issuer, "token")
	if err != nil {
		return nil, err
	}

	registerEndpoint, err := urlutil.JoinPath(issuer, "register")
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"issuer":                 issuer,
		"authorization_endpoint": authzEndpoint,
		"token_endpoint":         tokenEndpoint,
		"registration_endpoint":  registerEndpoint,
		"response_types_supported": []string{
			"code",
		},
		"grant_types_supported": []string{
			"authorization_code",
		},
		"code_challenge_methods_supported": []string{
			PKCEMethodS256,
			PKCEMethodPlain,
		},
		"token_endpoint_auth_methods_supported": []string{
			"none",
		},
		"scopes_supported": []string{
			"openid",
			"profile",
			"email",
		},
	}, nil
}

// AuthorizationServerMetadataURI returns the well-known URI for the authorization server metadata.
func AuthorizationServerMetadataURI(issuer string) (string, error) {
	return urlutil.JoinPath(issuer, ".well-known", "oauth-authorization-server")
}

// ProtectedResourceMetadata builds OAuth 2.0 Protected Resource Metadata per
// RFC 9728 for the MCP endpoint served at resourcePath.
func ProtectedResourceMetadata(issuer, resourcePath string) (map[string]any, error) {
	resourceURI, err := urlutil.JoinPath(issuer, resourcePath)
	if err != nil {
		return nil, err
	}

	authzServerURL, err := AuthorizationServerMetadataURI(issuer)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"resource": resourceURI,
		"authorization_servers": []string{
			issuer,
		},
		"bearer_methods_supported": []string{
			"header",
		},
		"_links": map[string]any{
			"oauth-authorization-server": map[string]string{
				"href": authzServerURL,
			},
		},
	}, nil
}

// ProtectedResourceMetadataURI is advertised in WWW-Authenticate challenges
func ProtectedResourceMetadataURI(issuer string) (string, error) {
	return urlutil.JoinPath(issuer, ".well-known", "oauth-protected-resource")
}

// ClientMetadata represents OAuth 2.0 client metadata
type ClientMetadata struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// BuildClientMetadata creates the registration response for a stored client
func BuildClientMetadata(client *storage.Client) ClientMetadata {
	redirectURIs := client.GetRedirectURIs()
	if redirectURIs == nil {
		redirectURIs = []string{}
	}
	return ClientMetadata{
		ClientID:                client.GetID(),
		ClientIDIssuedAt:        client.CreatedAt,
		ClientName:              client.Name,
		RedirectURIs:            redirectURIs,
		GrantTypes:              []string(client.GetGrantTypes()),
		ResponseTypes:           []string(client.GetResponseTypes()),
		Scope:                   client.Scope,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
	}
}
