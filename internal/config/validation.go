package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) errorf(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) warnf(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateDocument(data), nil
}

// ValidateDocument checks structure only; env references are not resolved
func ValidateDocument(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.errorf("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.errorf("version", "version field is required. Hint: Add \"version\": \"%s\"", versionPrefix)
	} else if !strings.HasPrefix(version, versionPrefix) {
		result.errorf("version", "unsupported version '%s' - use '%s' or '%s-<variant>'", version, versionPrefix, versionPrefix)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		result.errorf("", "%v", err)
	}

	validateProxyStructure(rawConfig, result)
	validateUpstreamStructure(rawConfig, result)
	validateIdentityStructure(rawConfig, result)
	validateStorageStructure(rawConfig, result)

	return result
}

func section(rawConfig map[string]any, name string, required bool, result *ValidationResult) map[string]any {
	value, exists := rawConfig[name]
	if !exists {
		if required {
			result.errorf(name, "%s field is required and must be an object", name)
		}
		return nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		result.errorf(name, "%s must be an object", name)
		return nil
	}
	return obj
}

func validateProxyStructure(rawConfig map[string]any, result *ValidationResult) {
	proxy := section(rawConfig, "proxy", true, result)
	if proxy == nil {
		return
	}
	if _, ok := proxy["baseURL"]; !ok {
		result.errorf("proxy.baseURL", "baseURL is required")
	}
	for _, key := range []string{"tokenTtl", "codeTtl", "cleanupInterval"} {
		raw, ok := proxy[key]
		if !ok {
			continue
		}
		s, isString := raw.(string)
		if !isString {
			result.errorf("proxy."+key, "must be a duration string like \"1h\"")
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			result.errorf("proxy."+key, "invalid duration %q", s)
		}
	}
	if _, ok := proxy["signingKey"]; !ok {
		result.warnf("proxy.signingKey", "no signingKey: state and authorization codes are not integrity protected")
	}
}

func validateUpstreamStructure(rawConfig map[string]any, result *ValidationResult) {
	upstream := section(rawConfig, "upstream", true, result)
	if upstream == nil {
		return
	}
	if _, ok := upstream["clientId"]; !ok {
		result.errorf("upstream.clientId", "clientId is required")
	}
	provider, _ := upstream["provider"].(string)
	switch UpstreamProvider(provider) {
	case UpstreamProviderCognito, "":
		_, hasDomain := upstream["domain"]
		_, hasAuthURL := upstream["authorizationUrl"]
		if !hasDomain && !hasAuthURL {
			result.errorf("upstream.domain", "domain or explicit endpoints are required")
		}
	case UpstreamProviderOIDC:
		for _, key := range []string{"authorizationUrl", "tokenUrl", "userInfoUrl"} {
			if _, ok := upstream[key]; !ok {
				result.errorf("upstream."+key, "%s is required for oidc provider", key)
			}
		}
	default:
		result.errorf("upstream.provider", "unknown provider '%s' - use 'cognito' or 'oidc'", provider)
	}
}

func validateIdentityStructure(rawConfig map[string]any, result *ValidationResult) {
	identity := section(rawConfig, "identity", false, result)
	if identity == nil {
		return
	}
	strategy, _ := identity["strategy"].(string)
	switch IdentityStrategy(strategy) {
	case IdentityStrategyDirect, "":
	case IdentityStrategyFederated:
		federation, ok := identity["federation"].(map[string]any)
		if !ok {
			result.errorf("identity.federation", "federation is required for federated strategy")
			return
		}
		for _, key := range []string{"identityPoolId", "loginProvider"} {
			if _, ok := federation[key]; !ok {
				result.errorf("identity.federation."+key, "%s is required", key)
			}
		}
	default:
		result.errorf("identity.strategy", "unknown strategy '%s' - use 'direct' or 'federated'", strategy)
	}
}

func validateStorageStructure(rawConfig map[string]any, result *ValidationResult) {
	storage := section(rawConfig, "storage", false, result)
	if storage == nil {
		return
	}
	kind, _ := storage["kind"].(string)
	switch StorageKind(kind) {
	case StorageKindMemory, "":
	case StorageKindRedis:
		redis, ok := storage["redis"].(map[string]any)
		if !ok || redis["addr"] == nil {
			result.errorf("storage.redis.addr", "addr is required when using redis storage")
		}
	case StorageKindFirestore:
		fs, ok := storage["firestore"].(map[string]any)
		if !ok || fs["project"] == nil {
			result.errorf("storage.firestore.project", "project is required when using firestore storage")
		}
	default:
		result.errorf("storage.kind", "unknown kind '%s' - use 'memory', 'redis' or 'firestore'", kind)
	}
}

var bashVarPattern = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// checkBashStyleSyntax flags $VAR strings that were meant as env references
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			if key == "$env" {
				continue
			}
			child := key
			if path != "" {
				child = path + "." + key
			}
			checkBashStyleSyntax(item, child, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	case string:
		if bashVarPattern.MatchString(v) {
			result.errorf(path, "found bash-style variable '%s' - use {\"$env\": \"VAR_NAME\"} instead", v)
		}
	}
}
