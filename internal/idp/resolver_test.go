package idp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func userInfoServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer up-at", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func upstreamToken(idToken string) *oauth2.Token {
	token := &oauth2.Token{AccessToken: "up-at", TokenType: "Bearer"}
	if idToken == "" {
		return token
	}
	return token.WithExtra(map[string]any{"id_token": idToken})
}

var fixedNow = time.Date(2024, 4, 5, 6, 7, 8, 0, time.UTC)

func TestDirectResolver(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantName string
	}{
		{name: "name claim", body: `{"sub":"u1","email":"a@b.com","name":"Ada","given_name":"A"}`, wantName: "Ada"},
		{name: "given_name fallback", body: `{"sub":"u1","email":"a@b.com","given_name":"A"}`, wantName: "A"},
		{name: "username fallback", body: `{"sub":"u1","email":"a@b.com","username":"ada42"}`, wantName: "ada42"},
		{name: "cognito:username fallback", body: `{"sub":"u1","email":"a@b.com","cognito:username":"ada43"}`, wantName: "ada43"},
		{name: "no name", body: `{"sub":"u1","email":"a@b.com"}`, wantName: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := userInfoServer(t, http.StatusOK, tt.body)
			r := NewDirectResolver("cognito", srv.URL, srv.Client())
			r.now = func() time.Time { return fixedNow }

			identity, err := r.Resolve(context.Background(), upstreamToken(""))
			require.NoError(t, err)
			assert.Equal(t, &Identity{
				Provider:   "cognito",
				Subject:    "u1",
				Email:      "a@b.com",
				Name:       tt.wantName,
				ResolvedAt: fixedNow,
			}, identity)
		})
	}
}

func TestDirectResolver_Failures(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := userInfoServer(t, http.StatusUnauthorized, `{"error":"invalid_token"}`)
		_, err := NewDirectResolver("cognito", srv.URL, srv.Client()).Resolve(context.Background(), upstreamToken(""))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUpstreamUserinfo)

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	})

	t.Run("missing sub", func(t *testing.T) {
		srv := userInfoServer(t, http.StatusOK, `{"email":"a@b.com"}`)
		_, err := NewDirectResolver("cognito", srv.URL, srv.Client()).Resolve(context.Background(), upstreamToken(""))
		assert.ErrorIs(t, err, ErrUpstreamUserinfo)
	})

	t.Run("not json", func(t *testing.T) {
		srv := userInfoServer(t, http.StatusOK, `<html>`)
		_, err := NewDirectResolver("cognito", srv.URL, srv.Client()).Resolve(context.Background(), upstreamToken(""))
		assert.ErrorIs(t, err, ErrUpstreamUserinfo)
	})
}

type fakeCognito struct {
	calls  int
	input  *cognitoidentity.GetIdInput
	output *cognitoidentity.GetIdOutput
	err    error
}

func (f *fakeCognito) GetId(_ context.Context, params *cognitoidentity.GetIdInput, _ ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error) {
	f.calls++
	f.input = params
	return f.output, f.err
}

var testFederation = FederationConfig{
	IdentityPoolID: "eu-west-1:pool",
	LoginProvider:  "accounts.google.com",
}

func TestNewFederatedResolver_Validation(t *testing.T) {
	_, err := NewFederatedResolver("oidc", "https://x", nil, nil, testFederation)
	assert.Error(t, err)
	_, err = NewFederatedResolver("oidc", "https://x", nil, &fakeCognito{}, FederationConfig{LoginProvider: "p"})
	assert.Error(t, err)
	_, err = NewFederatedResolver("oidc", "https://x", nil, &fakeCognito{}, FederationConfig{IdentityPoolID: "p"})
	assert.Error(t, err)
}

func TestFederatedResolver(t *testing.T) {
	srv := userInfoServer(t, http.StatusOK, `{"sub":"g-123","email":"a@b.com","given_name":"Ada"}`)
	cognito := &fakeCognito{output: &cognitoidentity.GetIdOutput{IdentityId: aws.String("eu-west-1:abcd")}}

	r, err := NewFederatedResolver("oidc", srv.URL, srv.Client(), cognito, testFederation)
	require.NoError(t, err)
	r.now = func() time.Time { return fixedNow }

	identity, err := r.Resolve(context.Background(), upstreamToken("consumer-idt"))
	require.NoError(t, err)
	assert.Equal(t, &Identity{
		Provider:    "oidc",
		Subject:     "g-123",
		FederatedID: "eu-west-1:abcd",
		Email:       "a@b.com",
		Name:        "Ada",
		ResolvedAt:  fixedNow,
	}, identity)

	require.NotNil(t, cognito.input)
	assert.Equal(t, "eu-west-1:pool", aws.ToString(cognito.input.IdentityPoolId))
	assert.Equal(t, map[string]string{"accounts.google.com": "consumer-idt"}, cognito.input.Logins)
}

func TestFederatedResolver_Failures(t *testing.T) {
	t.Run("consumer userinfo fails before federation", func(t *testing.T) {
		srv := userInfoServer(t, http.StatusForbidden, `{}`)
		cognito := &fakeCognito{output: &cognitoidentity.GetIdOutput{IdentityId: aws.String("id")}}
		r, err := NewFederatedResolver("oidc", srv.URL, srv.Client(), cognito, testFederation)
		require.NoError(t, err)

		identity, err := r.Resolve(context.Background(), upstreamToken("consumer-idt"))
		assert.Nil(t, identity)
		assert.ErrorIs(t, err, ErrConsumerUserinfo)
		assert.Zero(t, cognito.calls)
	})

	t.Run("missing id_token", func(t *testing.T) {
		srv := userInfoServer(t, http.StatusOK, `{"sub":"g-123"}`)
		cognito := &fakeCognito{}
		r, err := NewFederatedResolver("oidc", srv.URL, srv.Client(), cognito, testFederation)
		require.NoError(t, err)

		_, err = r.Resolve(context.Background(), upstreamToken(""))
		assert.ErrorIs(t, err, ErrFederationExchange)
		assert.Zero(t, cognito.calls)
	})

	t.Run("GetId error", func(t *testing.T) {
		srv := userInfoServer(t, http.StatusOK, `{"sub":"g-123"}`)
		cognito := &fakeCognito{err: errors.New("NotAuthorizedException")}
		r, err := NewFederatedResolver("oidc", srv.URL, srv.Client(), cognito, testFederation)
		require.NoError(t, err)

		identity, err := r.Resolve(context.Background(), upstreamToken("consumer-idt"))
		assert.Nil(t, identity)
		assert.ErrorIs(t, err, ErrFederationExchange)
		assert.Contains(t, err.Error(), "NotAuthorizedException")
	})

	t.Run("empty identity id", func(t *testing.T) {
		srv := userInfoServer(t, http.StatusOK, `{"sub":"g-123"}`)
		cognito := &fakeCognito{output: &cognitoidentity.GetIdOutput{}}
		r, err := NewFederatedResolver("oidc", srv.URL, srv.Client(), cognito, testFederation)
		require.NoError(t, err)

		identity, err := r.Resolve(context.Background(), upstreamToken("consumer-idt"))
		assert.Nil(t, identity)
		assert.ErrorIs(t, err, ErrFederationIdentityMissing)
	})
}
