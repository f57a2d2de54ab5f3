package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dgellow/mcp-relay/internal/log"
)

const versionPrefix = "v0.0.1-DEV_EDITION"

// secretPaths lists values that must be supplied as {"$env": "VAR"} references
var secretPaths = [][]string{
	{"proxy", "signingKey"},
	{"upstream", "clientSecret"},
	{"storage", "redis", "password"},
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse processes a config document already read into memory
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, versionPrefix) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env references here
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig rejects literal secrets before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	for _, path := range secretPaths {
		value, ok := lookup(rawConfig, path)
		if !ok {
			continue
		}
		name := strings.Join(path, ".")
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s must use environment variable reference for security", name)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
			}
		}
	}
	return nil
}

func lookup(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func applyDefaults(c *Config) {
	p := &c.Proxy
	if p.Name == "" {
		p.Name = DefaultName
	}
	if p.Addr == "" {
		p.Addr = DefaultAddr
	}
	if p.TokenTTL == 0 {
		p.TokenTTL = DefaultTokenTTL
	}
	if p.CodeTTL == 0 {
		p.CodeTTL = DefaultCodeTTL
	}
	if p.CleanupInterval == 0 {
		p.CleanupInterval = DefaultCleanupInterval
	}
	p.BaseURL = strings.TrimSuffix(p.BaseURL, "/")

	u := &c.Upstream
	if u.Provider == "" {
		if u.Domain != "" {
			u.Provider = UpstreamProviderCognito
		} else {
			u.Provider = UpstreamProviderOIDC
		}
	}
	if len(u.Scopes) == 0 {
		u.Scopes = []string{"openid", "profile", "email"}
	}

	if c.Identity.Strategy == "" {
		c.Identity.Strategy = IdentityStrategyDirect
	}
	if f := c.Identity.Federation; f != nil && f.Region == "" {
		f.Region = u.Region
	}

	s := &c.Storage
	if s.Kind == "" {
		s.Kind = StorageKindMemory
	}
	if s.Redis != nil && s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if s.Firestore != nil && s.Firestore.Collection == "" {
		s.Firestore.Collection = DefaultFirestoreColl
	}
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if err := validateProxy(&config.Proxy); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	if err := validateUpstream(&config.Upstream); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	if err := validateIdentity(&config.Identity); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := validateStorage(&config.Storage); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

func validateProxy(p *ProxyConfig) error {
	if p.BaseURL == "" {
		return fmt.Errorf("baseURL is required")
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("baseURL must be an absolute URL, got %q", p.BaseURL)
	}
	if p.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if p.SigningKey != "" && len(p.SigningKey) < 32 {
		return fmt.Errorf("signingKey must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(p.SigningKey))
	}
	if p.StrictCodes && p.SigningKey == "" {
		log.LogWarn("strictCodes is enabled without signingKey; code bindings can be forged")
	}
	if p.EnforceExpiry && p.CleanupInterval > p.TokenTTL {
		log.LogWarn("Cleanup interval is greater than token TTL")
	}
	if p.LogLevel != "" {
		switch strings.ToLower(p.LogLevel) {
		case "error", "warn", "warning", "info", "debug", "trace":
		default:
			return fmt.Errorf("invalid logLevel %q", p.LogLevel)
		}
	}
	return nil
}

func validateUpstream(u *UpstreamConfig) error {
	if u.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	switch u.Provider {
	case UpstreamProviderCognito:
		explicit := u.AuthorizationURL != "" && u.TokenURL != "" && u.UserInfoURL != ""
		if !explicit && u.Domain == "" {
			return fmt.Errorf("domain is required for cognito provider")
		}
		if !explicit && !strings.Contains(u.Domain, ".") && u.Region == "" {
			return fmt.Errorf("region is required for a cognito domain prefix")
		}
	case UpstreamProviderOIDC:
		if u.AuthorizationURL == "" || u.TokenURL == "" || u.UserInfoURL == "" {
			return fmt.Errorf("authorizationUrl, tokenUrl and userInfoUrl are required for oidc provider")
		}
	default:
		return fmt.Errorf("unknown provider %q", u.Provider)
	}
	return nil
}

func validateIdentity(i *IdentityConfig) error {
	switch i.Strategy {
	case IdentityStrategyDirect:
		return nil
	case IdentityStrategyFederated:
		f := i.Federation
		if f == nil {
			return fmt.Errorf("federation is required for federated strategy")
		}
		if f.IdentityPoolID == "" {
			return fmt.Errorf("federation.identityPoolId is required")
		}
		if f.LoginProvider == "" {
			return fmt.Errorf("federation.loginProvider is required")
		}
		if f.Region == "" {
			return fmt.Errorf("federation.region is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown strategy %q", i.Strategy)
	}
}

func validateStorage(s *StorageConfig) error {
	switch s.Kind {
	case StorageKindMemory:
		return nil
	case StorageKindRedis:
		if s.Redis == nil || s.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when using redis storage")
		}
		if s.Redis.DB < 0 {
			return fmt.Errorf("redis.db cannot be negative")
		}
		return nil
	case StorageKindFirestore:
		if s.Firestore == nil || s.Firestore.Project == "" {
			return fmt.Errorf("firestore.project is required when using firestore storage")
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
}
