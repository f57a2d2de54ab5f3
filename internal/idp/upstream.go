package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const maxErrorBody = 1024

// UpstreamConfig describes the upstream authorization server.
type UpstreamConfig struct {
	// Provider labels identities resolved through this upstream ("cognito", "oidc").
	Provider string

	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string

	ClientID     string
	ClientSecret string
	// RedirectURI is this relay's own callback; it must match on authorize and exchange.
	RedirectURI string
	Scopes      []string

	// HTTPClient is used for token and userinfo calls. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Upstream relays authorization requests to the upstream IdP and exchanges
// the codes it returns.
type Upstream struct {
	provider    string
	config      oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

var (
	_ AuthorizeURLBuilder = (*Upstream)(nil)
	_ CodeExchanger       = (*Upstream)(nil)
)

// CognitoEndpoints derives the hosted UI endpoints of a user pool domain.
func CognitoEndpoints(domain, region string) (authURL, tokenURL, userInfoURL string) {
	base := domain
	if !strings.Contains(domain, ".") {
		base = fmt.Sprintf("%s.auth.%s.amazoncognito.com", domain, region)
	}
	base = "https://" + strings.TrimPrefix(strings.TrimSuffix(base, "/"), "https://")
	return base + "/oauth2/authorize", base + "/oauth2/token", base + "/oauth2/userInfo"
}

func NewUpstream(cfg UpstreamConfig) (*Upstream, error) {
	if cfg.AuthorizationURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("authorization and token endpoints are required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("upstream client id is required")
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("redirect uri is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "oidc"
	}

	return &Upstream{
		provider: provider,
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizationURL,
				TokenURL: cfg.TokenURL,
				// credentials travel in the form body
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  cfg.HTTPClient,
	}, nil
}

func (u *Upstream) Provider() string {
	return u.provider
}

func (u *Upstream) UserInfoURL() string {
	return u.userInfoURL
}

func (u *Upstream) HTTPClient() *http.Client {
	return u.httpClient
}

func (u *Upstream) AuthorizeURL(state, scope string) string {
	if scope == "" {
		return u.config.AuthCodeURL(state)
	}
	return u.config.AuthCodeURL(state, oauth2.SetAuthURLParam("scope", scope))
}

// Exchange performs the single server-to-server code exchange. Failures are
// never retried.
func (u *Upstream) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := u.config.Exchange(u.clientContext(ctx), code)
	if err == nil {
		return token, nil
	}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		return nil, &StatusError{
			Op:         ErrUpstreamExchange,
			StatusCode: status,
			Body:       truncate(string(rErr.Body)),
		}
	}
	return nil, &StatusError{Op: ErrUpstreamExchange, Err: err}
}

func (u *Upstream) clientContext(ctx context.Context) context.Context {
	if u.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, u.httpClient)
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
