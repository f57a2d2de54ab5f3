package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// UpstreamProvider selects how upstream endpoints are derived
type UpstreamProvider string

const (
	// UpstreamProviderCognito derives endpoints from a user pool hosted UI domain
	UpstreamProviderCognito UpstreamProvider = "cognito"
	// UpstreamProviderOIDC takes explicit endpoints
	UpstreamProviderOIDC UpstreamProvider = "oidc"
)

// IdentityStrategy selects the identity resolver
type IdentityStrategy string

const (
	IdentityStrategyDirect    IdentityStrategy = "direct"
	IdentityStrategyFederated IdentityStrategy = "federated"
)

// StorageKind selects the client registry and token store backend
type StorageKind string

const (
	StorageKindMemory    StorageKind = "memory"
	StorageKindRedis     StorageKind = "redis"
	StorageKindFirestore StorageKind = "firestore"
)

const (
	DefaultName            = "mcp-relay"
	DefaultAddr            = ":8080"
	DefaultTokenTTL        = time.Hour
	DefaultCodeTTL         = 10 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
	DefaultRedisKeyPrefix  = "mcp-relay:"
	DefaultFirestoreColl   = "mcp_relay_clients"
)

// ProxyConfig is the relay's own server configuration
type ProxyConfig struct {
	BaseURL        string   `json:"baseURL"`
	Addr           string   `json:"addr"`
	Name           string   `json:"name"`
	AllowedOrigins []string `json:"allowedOrigins"`

	// SigningKey, when set, adds an HMAC tag to state and authorization codes
	SigningKey Secret `json:"signingKey"`

	TokenTTL        time.Duration `json:"tokenTtl"`
	CodeTTL         time.Duration `json:"codeTtl"`
	CleanupInterval time.Duration `json:"cleanupInterval"`

	// EnforceExpiry rejects codes older than CodeTTL and tokens older than TokenTTL
	EnforceExpiry bool `json:"enforceExpiry"`
	// StrictCodes binds codes to client, redirect URI and PKCE, and makes them single-use
	StrictCodes bool `json:"strictCodes"`

	LogLevel string `json:"logLevel"`
}

// UpstreamConfig is the upstream authorization server the relay forwards to
type UpstreamConfig struct {
	Provider UpstreamProvider `json:"provider"`

	// Cognito hosted UI
	Domain string `json:"domain"`
	Region string `json:"region"`

	ClientID     string `json:"clientId"`
	ClientSecret Secret `json:"clientSecret"`

	// Explicit endpoints; override the derived Cognito ones
	AuthorizationURL string `json:"authorizationUrl"`
	TokenURL         string `json:"tokenUrl"`
	UserInfoURL      string `json:"userInfoUrl"`

	Scopes []string `json:"scopes"`
}

// FederationConfig configures the identity pool exchange
type FederationConfig struct {
	IdentityPoolID string `json:"identityPoolId"`
	Region         string `json:"region"`
	// LoginProvider is the key the consumer id_token is presented under,
	// e.g. "accounts.google.com"
	LoginProvider string `json:"loginProvider"`
}

type IdentityConfig struct {
	Strategy   IdentityStrategy  `json:"strategy"`
	Federation *FederationConfig `json:"federation,omitempty"`
}

type RedisConfig struct {
	Addr      string `json:"addr"`
	Username  string `json:"username"`
	Password  Secret `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"keyPrefix"`
}

type FirestoreConfig struct {
	Project    string `json:"project"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

type StorageConfig struct {
	Kind      StorageKind      `json:"kind"`
	Redis     *RedisConfig     `json:"redis,omitempty"`
	Firestore *FirestoreConfig `json:"firestore,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version  string         `json:"version"`
	Proxy    ProxyConfig    `json:"proxy"`
	Upstream UpstreamConfig `json:"upstream"`
	Identity IdentityConfig `json:"identity"`
	Storage  StorageConfig  `json:"storage"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference, resolving the reference immediately.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
