package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	jsonwriter "github.com/dgellow/mcp-relay/internal/json"
	"github.com/dgellow/mcp-relay/internal/log"
	"github.com/dgellow/mcp-relay/internal/storage"
)

// HTTPServer owns the listener the relay serves its OAuth and MCP routes on
type HTTPServer struct {
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			// upstream exchange and federation both happen inside /callback
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  2 * time.Minute,
		},
	}
}

// Addr is the bound address once Start has opened the listener, otherwise
// the configured one
func (h *HTTPServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.server.Addr
}

// Start binds the configured address and serves until Stop
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	log.LogInfoWithFields("http", "Listening", map[string]any{
		"addr": ln.Addr().String(),
	})
	if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests, which may be mid-way through an upstream
// exchange, until ctx expires
func (h *HTTPServer) Stop(ctx context.Context) error {
	addr := h.Addr()
	if err := h.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.LogInfoWithFields("http", "Stopped", map[string]any{"addr": addr})
	return nil
}

// healthProbeClientID is never issued; looking it up exercises the backend
const healthProbeClientID = "health-probe"

// HealthHandler reports whether the client registry backend answers
type HealthHandler struct {
	clients storage.ClientRegistry
	version string
}

// NewHealthHandler returns a handler probing clients. A nil registry always
// reports ok.
func NewHealthHandler(clients storage.ClientRegistry, version string) *HealthHandler {
	return &HealthHandler{clients: clients, version: version}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "storage": "ok"}
	if h.version != "" {
		body["version"] = h.version
	}
	if h.clients == nil {
		delete(body, "storage")
		_ = jsonwriter.WriteResponse(w, http.StatusOK, body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	_, err := h.clients.GetClient(ctx, healthProbeClientID)
	if err != nil && !errors.Is(err, storage.ErrClientNotFound) {
		log.LogWarnWithFields("http", "Health probe failed", map[string]any{"error": err.Error()})
		body["status"] = "degraded"
		body["storage"] = "unavailable"
		_ = jsonwriter.WriteResponse(w, http.StatusServiceUnavailable, body)
		return
	}
	_ = jsonwriter.WriteResponse(w, http.StatusOK, body)
}
