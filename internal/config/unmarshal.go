package config

import (
	"encoding/json"
	"fmt"
	"time"
)

func parseOptional(raw json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", nil
	}
	value, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", field, err)
	}
	return value, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s cannot be negative", field)
	}
	return d, nil
}

// UnmarshalJSON implements custom unmarshaling for ProxyConfig
func (p *ProxyConfig) UnmarshalJSON(data []byte) error {
	type rawProxy struct {
		BaseURL         json.RawMessage `json:"baseURL"`
		Addr            string          `json:"addr"`
		Name            string          `json:"name"`
		AllowedOrigins  []string        `json:"allowedOrigins"`
		SigningKey      json.RawMessage `json:"signingKey"`
		TokenTTL        string          `json:"tokenTtl"`
		CodeTTL         string          `json:"codeTtl"`
		CleanupInterval string          `json:"cleanupInterval"`
		EnforceExpiry   bool            `json:"enforceExpiry"`
		StrictCodes     bool            `json:"strictCodes"`
		LogLevel        string          `json:"logLevel"`
	}

	var raw rawProxy
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Addr = raw.Addr
	p.Name = raw.Name
	p.AllowedOrigins = raw.AllowedOrigins
	p.EnforceExpiry = raw.EnforceExpiry
	p.StrictCodes = raw.StrictCodes
	p.LogLevel = raw.LogLevel

	var err error
	if p.BaseURL, err = parseOptional(raw.BaseURL, "baseURL"); err != nil {
		return err
	}
	signingKey, err := parseOptional(raw.SigningKey, "signingKey")
	if err != nil {
		return err
	}
	p.SigningKey = Secret(signingKey)

	if p.TokenTTL, err = parseDuration(raw.TokenTTL, "tokenTtl"); err != nil {
		return err
	}
	if p.CodeTTL, err = parseDuration(raw.CodeTTL, "codeTtl"); err != nil {
		return err
	}
	if p.CleanupInterval, err = parseDuration(raw.CleanupInterval, "cleanupInterval"); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for UpstreamConfig
func (u *UpstreamConfig) UnmarshalJSON(data []byte) error {
	type rawUpstream struct {
		Provider         UpstreamProvider `json:"provider"`
		Domain           json.RawMessage  `json:"domain"`
		Region           string           `json:"region"`
		ClientID         json.RawMessage  `json:"clientId"`
		ClientSecret     json.RawMessage  `json:"clientSecret"`
		AuthorizationURL string           `json:"authorizationUrl"`
		TokenURL         string           `json:"tokenUrl"`
		UserInfoURL      string           `json:"userInfoUrl"`
		Scopes           []string         `json:"scopes"`
	}

	var raw rawUpstream
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	u.Provider = raw.Provider
	u.Region = raw.Region
	u.AuthorizationURL = raw.AuthorizationURL
	u.TokenURL = raw.TokenURL
	u.UserInfoURL = raw.UserInfoURL
	u.Scopes = raw.Scopes

	var err error
	if u.Domain, err = parseOptional(raw.Domain, "domain"); err != nil {
		return err
	}
	if u.ClientID, err = parseOptional(raw.ClientID, "clientId"); err != nil {
		return err
	}
	secret, err := parseOptional(raw.ClientSecret, "clientSecret")
	if err != nil {
		return err
	}
	u.ClientSecret = Secret(secret)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for FederationConfig
func (f *FederationConfig) UnmarshalJSON(data []byte) error {
	type rawFederation struct {
		IdentityPoolID json.RawMessage `json:"identityPoolId"`
		Region         string          `json:"region"`
		LoginProvider  string          `json:"loginProvider"`
	}

	var raw rawFederation
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.Region = raw.Region
	f.LoginProvider = raw.LoginProvider

	var err error
	f.IdentityPoolID, err = parseOptional(raw.IdentityPoolID, "identityPoolId")
	return err
}

// UnmarshalJSON implements custom unmarshaling for RedisConfig
func (r *RedisConfig) UnmarshalJSON(data []byte) error {
	type rawRedis struct {
		Addr      json.RawMessage `json:"addr"`
		Username  string          `json:"username"`
		Password  json.RawMessage `json:"password"`
		DB        int             `json:"db"`
		KeyPrefix string          `json:"keyPrefix"`
	}

	var raw rawRedis
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Username = raw.Username
	r.DB = raw.DB
	r.KeyPrefix = raw.KeyPrefix

	var err error
	if r.Addr, err = parseOptional(raw.Addr, "addr"); err != nil {
		return err
	}
	password, err := parseOptional(raw.Password, "password")
	if err != nil {
		return err
	}
	r.Password = Secret(password)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for FirestoreConfig
func (f *FirestoreConfig) UnmarshalJSON(data []byte) error {
	type rawFirestore struct {
		Project    json.RawMessage `json:"project"`
		Database   string          `json:"database"`
		Collection string          `json:"collection"`
	}

	var raw rawFirestore
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.Database = raw.Database
	f.Collection = raw.Collection

	var err error
	f.Project, err = parseOptional(raw.Project, "project")
	return err
}
