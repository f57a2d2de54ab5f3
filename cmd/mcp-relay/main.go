package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/mcp-relay/internal"
	"github.com/dgellow/mcp-relay/internal/config"
	"github.com/dgellow/mcp-relay/internal/log"
)

var BuildVersion = "dev"

func defaultConfig() map[string]any {
	return map[string]any{
		"version": "v0.0.1-DEV_EDITION",
		"proxy": map[string]any{
			"baseURL":         "https://mcp.yourcompany.com",
			"addr":            ":8080",
			"name":            "mcp-relay",
			"allowedOrigins":  []string{"https://claude.ai"},
			"signingKey":      map[string]string{"$env": "RELAY_SIGNING_KEY"},
			"tokenTtl":        "1h",
			"codeTtl":         "10m",
			"cleanupInterval": "5m",
			"enforceExpiry":   false,
			"strictCodes":     false,
			"logLevel":        "info",
		},
		"upstream": map[string]any{
			"provider":     "cognito",
			"domain":       "your-user-pool-domain",
			"region":       "eu-west-1",
			"clientId":     map[string]string{"$env": "COGNITO_CLIENT_ID"},
			"clientSecret": map[string]string{"$env": "COGNITO_CLIENT_SECRET"},
			"scopes":       []string{"openid", "profile", "email"},
		},
		"identity": map[string]any{
			"strategy": "direct",
		},
		"storage": map[string]any{
			"kind": "memory",
		},
	}
}

func generateDefaultConfig(path string) error {
	data, err := json.MarshalIndent(defaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func printIssues(title string, issues []config.ValidationError) {
	if len(issues) == 0 {
		return
	}
	fmt.Printf("\n%s (%d):\n", title, len(issues))
	for _, issue := range issues {
		if issue.Path != "" {
			fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
		} else {
			fmt.Printf("  - %s\n", issue.Message)
		}
	}
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)
	printIssues("Errors", result.Errors)
	printIssues("Warnings", result.Warnings)

	fmt.Println()
	switch {
	case len(result.Errors) > 0:
		fmt.Println("Result: FAIL")
	case len(result.Warnings) > 0:
		fmt.Println("Result: PASS (warnings present)")
	default:
		fmt.Println("Result: PASS")
	}

	if !result.IsValid() {
		return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
	}
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.Proxy.LogLevel != "" {
		if err := log.SetLogLevel(cfg.Proxy.LogLevel); err != nil {
			log.LogWarn("Ignoring logLevel: %v", err)
		}
	}

	internal.Version = BuildVersion
	log.LogInfoWithFields("main", "Starting mcp-relay", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	ctx := context.Background()
	relay, err := internal.NewMCPRelay(ctx, cfg)
	if err != nil {
		log.LogError("Failed to create MCP relay: %v", err)
		os.Exit(1)
	}

	if err := relay.Run(); err != nil {
		log.LogError("Server stopped with error: %v", err)
		os.Exit(1)
	}
}
