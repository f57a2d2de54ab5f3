package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/mcp-relay/internal/config"
	"github.com/dgellow/mcp-relay/internal/crypto"
	"github.com/dgellow/mcp-relay/internal/idp"
	"github.com/dgellow/mcp-relay/internal/log"
	"github.com/dgellow/mcp-relay/internal/oauth"
	"github.com/dgellow/mcp-relay/internal/server"
	"github.com/dgellow/mcp-relay/internal/storage"
	"github.com/dgellow/mcp-relay/internal/tools"
	"golang.org/x/sync/errgroup"
)

const (
	mcpPath         = "/mcp"
	shutdownTimeout = 30 * time.Second
)

// Version is set at build time
var Version = "dev"

// MCPRelay is the complete authorization relay application
type MCPRelay struct {
	config     config.Config
	httpServer *server.HTTPServer
	tools      *tools.Server
	storage    storage.Storage
	cleanup    *storage.CleanupManager
}

// NewMCPRelay builds the application from a resolved config
func NewMCPRelay(ctx context.Context, cfg config.Config) (*MCPRelay, error) {
	log.LogInfoWithFields("relay", "Building MCP relay", map[string]any{
		"baseURL":        cfg.Proxy.BaseURL,
		"upstream":       cfg.Upstream.Provider,
		"identity":       cfg.Identity.Strategy,
		"storage":        cfg.Storage.Kind,
		"signed":         cfg.Proxy.SigningKey != "",
		"enforce_expiry": cfg.Proxy.EnforceExpiry,
		"strict_codes":   cfg.Proxy.StrictCodes,
	})

	store, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	upstream, err := idp.NewUpstreamFromConfig(cfg, nil)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to setup upstream: %w", err)
	}
	resolver, err := idp.NewResolverFromConfig(ctx, cfg, upstream, nil)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to setup identity resolver: %w", err)
	}

	toolServer := tools.NewServer(cfg.Proxy.Name, Version, mcpPath)

	handler, err := BuildHandler(cfg, store, upstream, resolver, toolServer.Handler())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	app := &MCPRelay{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Proxy.Addr),
		tools:      toolServer,
		storage:    store,
	}
	if cfg.Proxy.EnforceExpiry {
		app.cleanup = storage.NewCleanupManager(store, cfg.Proxy.CleanupInterval)
	}
	return app, nil
}

func setupStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	switch cfg.Storage.Kind {
	case config.StorageKindRedis:
		r := cfg.Storage.Redis
		log.LogInfoWithFields("relay", "Using redis storage", map[string]any{
			"addr": r.Addr,
			"db":   r.DB,
		})
		return storage.NewRedisStorage(ctx, storage.RedisOptions{
			Addr:         r.Addr,
			Username:     r.Username,
			Password:     string(r.Password),
			DB:           r.DB,
			KeyPrefix:    r.KeyPrefix,
			ExpireTokens: cfg.Proxy.EnforceExpiry,
		})
	case config.StorageKindFirestore:
		f := cfg.Storage.Firestore
		log.LogInfoWithFields("relay", "Using firestore storage", map[string]any{
			"project":    f.Project,
			"database":   f.Database,
			"collection": f.Collection,
		})
		return storage.NewFirestoreStorage(ctx, f.Project, f.Database, f.Collection)
	default:
		log.LogInfoWithFields("relay", "Using in-memory storage", nil)
		return storage.NewMemoryStorage(), nil
	}
}

// BuildHandler wires the OAuth endpoints and the protected MCP endpoint
func BuildHandler(cfg config.Config, store storage.Storage, upstream *idp.Upstream, resolver idp.Resolver, mcpHandler http.Handler) (http.Handler, error) {
	var stateKey, codeKey []byte
	if cfg.Proxy.SigningKey != "" {
		var err error
		if stateKey, err = crypto.DeriveKey([]byte(cfg.Proxy.SigningKey), "mcp-relay state"); err != nil {
			return nil, err
		}
		if codeKey, err = crypto.DeriveKey([]byte(cfg.Proxy.SigningKey), "mcp-relay code"); err != nil {
			return nil, err
		}
	}

	states := oauth.NewStateCodec(stateKey)
	codes := oauth.NewCodeIssuer(oauth.CodeIssuerConfig{
		Key:           codeKey,
		Strict:        cfg.Proxy.StrictCodes,
		EnforceExpiry: cfg.Proxy.EnforceExpiry,
		TTL:           cfg.Proxy.CodeTTL,
	})

	authHandlers := server.NewAuthHandlers(server.AuthDeps{
		Issuer:       cfg.Proxy.BaseURL,
		ResourcePath: mcpPath,
		Clients:      store,
		Relay:        oauth.NewRelay(store, upstream, states),
		States:       states,
		Exchanger:    upstream,
		Resolver:     resolver,
		Codes:        codes,
		Tokens:       oauth.NewTokenIssuer(store, cfg.Proxy.TokenTTL),
		UsedCodes:    store,
	})

	resourceMetadata, err := oauth.ProtectedResourceMetadataURI(cfg.Proxy.BaseURL)
	if err != nil {
		return nil, err
	}

	corsMiddleware := server.NewCORSMiddleware(cfg.Proxy.AllowedOrigins)
	oauthMiddleware := []server.MiddlewareFunc{
		corsMiddleware,
		server.NewLoggerMiddleware("oauth"),
		server.NewRecoverMiddleware("oauth"),
	}
	// CORS sits outside the bearer gate so preflights are never challenged
	mcpMiddleware := []server.MiddlewareFunc{
		server.NewBearerMiddleware(oauth.NewBearerValidator(store, cfg.Proxy.EnforceExpiry), resourceMetadata),
		corsMiddleware,
		server.NewLoggerMiddleware("mcp"),
		server.NewRecoverMiddleware("mcp"),
	}

	mux := http.NewServeMux()
	mux.Handle("/health", server.NewHealthHandler(store, Version))
	mux.Handle("/.well-known/oauth-authorization-server", server.ChainMiddleware(http.HandlerFunc(authHandlers.WellKnownHandler), oauthMiddleware...))
	mux.Handle("/.well-known/oauth-protected-resource", server.ChainMiddleware(http.HandlerFunc(authHandlers.ProtectedResourceMetadataHandler), oauthMiddleware...))
	mux.Handle("/register", server.ChainMiddleware(http.HandlerFunc(authHandlers.RegisterHandler), oauthMiddleware...))
	mux.Handle("/authorize", server.ChainMiddleware(http.HandlerFunc(authHandlers.AuthorizeHandler), oauthMiddleware...))
	mux.Handle("/callback", server.ChainMiddleware(http.HandlerFunc(authHandlers.CallbackHandler), oauthMiddleware...))
	mux.Handle("/token", server.ChainMiddleware(http.HandlerFunc(authHandlers.TokenHandler), oauthMiddleware...))
	mux.Handle(mcpPath, server.ChainMiddleware(mcpHandler, mcpMiddleware...))

	return mux, nil
}

// Run serves until SIGINT/SIGTERM or a component fails, then shuts down
// gracefully
func (m *MCPRelay) Run() error {
	log.LogInfoWithFields("relay", "Starting MCP relay", map[string]any{
		"addr": m.config.Proxy.Addr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := m.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	if m.cleanup != nil {
		g.Go(func() error {
			return m.cleanup.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		reason := "signal"
		if ctx.Err() == nil {
			reason = "component failure"
		}
		log.LogInfoWithFields("relay", "Starting graceful shutdown", map[string]any{
			"reason":  reason,
			"timeout": shutdownTimeout.String(),
		})
		return m.shutdown()
	})

	err := g.Wait()
	if closeErr := m.storage.Close(); closeErr != nil {
		log.LogWarnWithFields("relay", "Storage close error", map[string]any{
			"error": closeErr.Error(),
		})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.LogErrorWithFields("relay", "Shut down with error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("relay", "Application shutdown complete", nil)
	return nil
}

func (m *MCPRelay) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := m.httpServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}
	if err := m.tools.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("MCP server shutdown: %w", err))
	}
	return errors.Join(errs...)
}
