package urlutil

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		paths []string
		want  string
	}{
		{"bare host", "https://relay.example.com", []string{"authorize"}, "https://relay.example.com/authorize"},
		{"trailing slash on base", "https://relay.example.com/", []string{"token"}, "https://relay.example.com/token"},
		{"base with path", "https://example.com/relay", []string{"register"}, "https://example.com/relay/register"},
		{"well-known", "https://relay.example.com", []string{".well-known", "oauth-authorization-server"}, "https://relay.example.com/.well-known/oauth-authorization-server"},
		{"leading slash on segment", "https://relay.example.com", []string{"/mcp"}, "https://relay.example.com/mcp"},
		{"keeps trailing slash", "https://relay.example.com", []string{"mcp/"}, "https://relay.example.com/mcp/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := JoinPath("://bad", "x")
	assert.Error(t, err)
}

func TestParseAbsolute(t *testing.T) {
	u, err := ParseAbsolute("http://localhost:3000/cb?x=1")
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", u.Host)

	native, err := ParseAbsolute("com.example.app:/oauth/callback")
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", native.Scheme)

	for _, raw := range []string{"", "/cb", "cb", "//host/cb", "://bad"} {
		_, err := ParseAbsolute(raw)
		assert.Error(t, err, raw)
	}
}

func TestWithQuery(t *testing.T) {
	u, err := url.Parse("http://localhost:3000/cb?z=1&a=%2f%2F")
	require.NoError(t, err)

	got := WithQuery(u, url.Values{"code": {"abc"}, "state": {""}})
	assert.Equal(t, "http://localhost:3000/cb?z=1&a=%2f%2F&code=abc", got)
	assert.Equal(t, "z=1&a=%2f%2F", u.RawQuery, "input must not be modified")

	bare, err := url.Parse("com.example.app:/oauth/callback")
	require.NoError(t, err)
	assert.Equal(t, "com.example.app:/oauth/callback?code=c&state=%FF",
		WithQuery(bare, url.Values{"code": {"c"}, "state": {"\xff"}}))

	assert.Equal(t, "http://localhost:3000/cb?z=1&a=%2f%2F", WithQuery(u, nil))
}
