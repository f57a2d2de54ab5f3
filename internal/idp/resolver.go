package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/dgellow/mcp-relay/internal/log"
	"golang.org/x/oauth2"
)

// userInfoClaims holds the userinfo claims the relay maps. Cognito reports
// the user name as "username"; some pools only send "cognito:username".
type userInfoClaims struct {
	Sub             string `json:"sub"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	GivenName       string `json:"given_name"`
	Username        string `json:"username"`
	CognitoUsername string `json:"cognito:username"`
}

func (c userInfoClaims) displayName() string {
	for _, v := range []string{c.Name, c.GivenName, c.Username, c.CognitoUsername} {
		if v != "" {
			return v
		}
	}
	return ""
}

// fetchUserInfo calls a userinfo endpoint with token as bearer credential.
// op tags the returned error.
func fetchUserInfo(ctx context.Context, httpClient *http.Client, userInfoURL string, token *oauth2.Token, op error) (*userInfoClaims, error) {
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, &StatusError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &StatusError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var claims userInfoClaims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, &StatusError{Op: op, Err: fmt.Errorf("failed to decode user info: %w", err)}
	}
	if claims.Sub == "" {
		return nil, &StatusError{Op: op, Err: fmt.Errorf("user info has no sub claim")}
	}
	return &claims, nil
}

// DirectResolver reads the identity from the userinfo endpoint of the IdP
// that issued the code.
type DirectResolver struct {
	provider    string
	userInfoURL string
	httpClient  *http.Client
	now         func() time.Time
}

var _ Resolver = (*DirectResolver)(nil)

func NewDirectResolver(provider, userInfoURL string, httpClient *http.Client) *DirectResolver {
	return &DirectResolver{
		provider:    provider,
		userInfoURL: userInfoURL,
		httpClient:  httpClient,
		now:         time.Now,
	}
}

func (r *DirectResolver) Resolve(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	claims, err := fetchUserInfo(ctx, r.httpClient, r.userInfoURL, token, ErrUpstreamUserinfo)
	if err != nil {
		return nil, err
	}

	log.LogTraceWithFields("idp", "Resolved identity from userinfo", map[string]any{
		"provider": r.provider,
		"sub":      claims.Sub,
	})

	return &Identity{
		Provider:   r.provider,
		Subject:    claims.Sub,
		Email:      claims.Email,
		Name:       claims.displayName(),
		ResolvedAt: r.now().UTC(),
	}, nil
}

// CognitoIdentityClient is the subset of the Cognito Identity API used for
// federation, split out so tests can substitute it.
type CognitoIdentityClient interface {
	GetId(ctx context.Context, params *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error)
}

var _ CognitoIdentityClient = (*cognitoidentity.Client)(nil)

// FederationConfig names the identity pool and the login provider key under
// which the consumer IdP's id_token is presented.
type FederationConfig struct {
	IdentityPoolID string
	LoginProvider  string
}

// FederatedResolver resolves in two strictly ordered stages: consumer IdP
// userinfo, then an identity pool GetId with the consumer id_token.
type FederatedResolver struct {
	provider    string
	userInfoURL string
	httpClient  *http.Client
	cognito     CognitoIdentityClient
	federation  FederationConfig
	now         func() time.Time
}

var _ Resolver = (*FederatedResolver)(nil)

func NewFederatedResolver(provider, userInfoURL string, httpClient *http.Client, cognito CognitoIdentityClient, federation FederationConfig) (*FederatedResolver, error) {
	if cognito == nil {
		return nil, fmt.Errorf("cognito identity client is required")
	}
	if federation.IdentityPoolID == "" {
		return nil, fmt.Errorf("identity pool id is required")
	}
	if federation.LoginProvider == "" {
		return nil, fmt.Errorf("login provider is required")
	}
	return &FederatedResolver{
		provider:    provider,
		userInfoURL: userInfoURL,
		httpClient:  httpClient,
		cognito:     cognito,
		federation:  federation,
		now:         time.Now,
	}, nil
}

func (r *FederatedResolver) Resolve(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	claims, err := fetchUserInfo(ctx, r.httpClient, r.userInfoURL, token, ErrConsumerUserinfo)
	if err != nil {
		return nil, err
	}

	idToken := IDToken(token)
	if idToken == "" {
		return nil, &StatusError{Op: ErrFederationExchange, Err: fmt.Errorf("upstream token response has no id_token")}
	}

	out, err := r.cognito.GetId(ctx, &cognitoidentity.GetIdInput{
		IdentityPoolId: aws.String(r.federation.IdentityPoolID),
		Logins: map[string]string{
			r.federation.LoginProvider: idToken,
		},
	})
	if err != nil {
		return nil, &StatusError{Op: ErrFederationExchange, Err: err}
	}
	if out == nil || aws.ToString(out.IdentityId) == "" {
		return nil, ErrFederationIdentityMissing
	}

	federatedID := aws.ToString(out.IdentityId)
	log.LogDebugWithFields("idp", "Resolved federated identity", map[string]any{
		"provider":     r.provider,
		"sub":          claims.Sub,
		"federated_id": federatedID,
	})

	return &Identity{
		Provider:    r.provider,
		Subject:     claims.Sub,
		FederatedID: federatedID,
		Email:       claims.Email,
		Name:        claims.displayName(),
		ResolvedAt:  r.now().UTC(),
	}, nil
}
