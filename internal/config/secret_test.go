package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret-password")
	assert.Equal(t, "***", s.String())
	assert.Equal(t, "value: ***", fmt.Sprintf("value: %s", s))
	assert.NotContains(t, fmt.Sprintf("%v", s), "super-secret")

	assert.Equal(t, "", Secret("").String())
}

func TestSecretJSONMarshal(t *testing.T) {
	cfg := Config{
		Proxy:    ProxyConfig{SigningKey: "0123456789abcdef0123456789abcdef"},
		Upstream: UpstreamConfig{ClientID: "abc", ClientSecret: "upstream-secret"},
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "upstream-secret")
	assert.NotContains(t, string(data), "0123456789abcdef")
	assert.Contains(t, string(data), `"clientSecret":"***"`)
	assert.Contains(t, string(data), `"clientId":"abc"`)
}
