package idp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/dgellow/mcp-relay/internal/config"
	"github.com/dgellow/mcp-relay/internal/urlutil"
)

const upstreamTimeout = 30 * time.Second

// NewUpstreamFromConfig builds the upstream relay from the resolved config.
// Explicit endpoints win over ones derived from a Cognito domain.
func NewUpstreamFromConfig(cfg config.Config, httpClient *http.Client) (*Upstream, error) {
	u := cfg.Upstream
	authURL, tokenURL, userInfoURL := u.AuthorizationURL, u.TokenURL, u.UserInfoURL
	if u.Provider == config.UpstreamProviderCognito && u.Domain != "" {
		dAuth, dToken, dUserInfo := CognitoEndpoints(u.Domain, u.Region)
		authURL = firstNonEmpty(authURL, dAuth)
		tokenURL = firstNonEmpty(tokenURL, dToken)
		userInfoURL = firstNonEmpty(userInfoURL, dUserInfo)
	}

	redirectURI, err := urlutil.JoinPath(cfg.Proxy.BaseURL, "callback")
	if err != nil {
		return nil, fmt.Errorf("building callback url: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: upstreamTimeout}
	}

	return NewUpstream(UpstreamConfig{
		Provider:         string(u.Provider),
		AuthorizationURL: authURL,
		TokenURL:         tokenURL,
		UserInfoURL:      userInfoURL,
		ClientID:         u.ClientID,
		ClientSecret:     string(u.ClientSecret),
		RedirectURI:      redirectURI,
		Scopes:           u.Scopes,
		HTTPClient:       httpClient,
	})
}

// NewResolverFromConfig selects the identity resolution strategy. A nil
// cognito client is replaced by one built from the default AWS config for
// the federation region; GetId needs no AWS credentials.
func NewResolverFromConfig(ctx context.Context, cfg config.Config, upstream *Upstream, cognito CognitoIdentityClient) (Resolver, error) {
	switch cfg.Identity.Strategy {
	case config.IdentityStrategyDirect, "":
		return NewDirectResolver(upstream.Provider(), upstream.UserInfoURL(), upstream.HTTPClient()), nil

	case config.IdentityStrategyFederated:
		f := cfg.Identity.Federation
		if f == nil {
			return nil, fmt.Errorf("federation config is required for federated strategy")
		}
		if cognito == nil {
			var err error
			cognito, err = NewCognitoIdentityClient(ctx, f.Region, upstream.HTTPClient())
			if err != nil {
				return nil, err
			}
		}
		return NewFederatedResolver(upstream.Provider(), upstream.UserInfoURL(), upstream.HTTPClient(), cognito, FederationConfig{
			IdentityPoolID: f.IdentityPoolID,
			LoginProvider:  f.LoginProvider,
		})

	default:
		return nil, fmt.Errorf("unknown identity strategy: %s", cfg.Identity.Strategy)
	}
}

// NewCognitoIdentityClient builds an unsigned Cognito Identity client
func NewCognitoIdentityClient(ctx context.Context, region string, httpClient *http.Client) (*cognitoidentity.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return cognitoidentity.NewFromConfig(awsCfg), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
