// Package tools is the MCP tool server protected by the relay's bearer
// tokens. Every tool call runs with the caller's identity in its context.
package tools

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dgellow/mcp-relay/internal/crypto"
	"github.com/dgellow/mcp-relay/internal/idp"
	"github.com/dgellow/mcp-relay/internal/log"
	"github.com/dgellow/mcp-relay/internal/servicecontext"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const maxTitleLength = 500

// Todo is a todo item owned by one resolved identity
type Todo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// AddResult is the structured output of the add tool
type AddResult struct {
	Sum float64 `json:"sum"`
}

// Server hosts the tools over MCP streamable HTTP
type Server struct {
	mcpServer *mcpserver.MCPServer
	transport *mcpserver.StreamableHTTPServer

	mu    sync.Mutex
	todos map[string][]Todo
	now   func() time.Time
}

// NewServer builds the tool server and mounts its transport at endpointPath
func NewServer(name, version, endpointPath string) *Server {
	s := &Server{
		todos: make(map[string][]Todo),
		now:   time.Now,
	}

	s.mcpServer = mcpserver.NewMCPServer(name, version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	s.mcpServer.AddTool(addTool(), s.handleAdd)
	s.mcpServer.AddTool(createTodoTool(), s.handleCreateTodo)
	s.mcpServer.AddTool(listTodosTool(), s.handleListTodos)

	// The transport derives each call's context from the request, so the
	// identity set by the bearer middleware reaches the handlers alongside
	// the MCP session
	s.transport = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(endpointPath),
	)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.transport
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.transport.Shutdown(ctx)
}

func addTool() mcp.Tool {
	return mcp.NewTool("add",
		mcp.WithDescription("Adds two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("First addend")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Second addend")),
	)
}

func createTodoTool() mcp.Tool {
	return mcp.NewTool("create_todo",
		mcp.WithDescription("Creates a todo item for the signed-in user"),
		mcp.WithString("title", mcp.Required(), mcp.Description("Todo title")),
	)
}

func listTodosTool() mcp.Tool {
	return mcp.NewTool("list_todos",
		mcp.WithDescription("Lists the signed-in user's todo items"),
	)
}

func (s *Server) handleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := req.RequireFloat("a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := req.RequireFloat("b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result := AddResult{Sum: a + b}
	return mcp.NewToolResultStructured(result, fmt.Sprintf("%g", result.Sum)), nil
}

func (s *Server) handleCreateTodo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, ok := ownerFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no authenticated identity"), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if title == "" {
		return mcp.NewToolResultError("title must not be empty"), nil
	}
	if len(title) > maxTitleLength {
		return mcp.NewToolResultError(fmt.Sprintf("title must be at most %d bytes", maxTitleLength)), nil
	}

	id, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("generating todo id: %w", err)
	}
	todo := Todo{ID: id, Title: title, Owner: owner, CreatedAt: s.now().UTC()}

	s.mu.Lock()
	s.todos[owner] = append(s.todos[owner], todo)
	s.mu.Unlock()

	log.LogDebugWithFields("tools", "Created todo", map[string]any{
		"owner": owner,
		"id":    id,
	})
	return mcp.NewToolResultStructured(todo, fmt.Sprintf("Created todo %q", title)), nil
}

func (s *Server) handleListTodos(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, ok := ownerFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no authenticated identity"), nil
	}

	s.mu.Lock()
	todos := append([]Todo(nil), s.todos[owner]...)
	s.mu.Unlock()

	sort.SliceStable(todos, func(i, j int) bool { return todos[i].CreatedAt.Before(todos[j].CreatedAt) })
	if todos == nil {
		todos = []Todo{}
	}
	return mcp.NewToolResultStructured(map[string]any{"todos": todos}, fmt.Sprintf("%d todos", len(todos))), nil
}

// ownerFromContext keys data by the federated id when one was resolved
func ownerFromContext(ctx context.Context) (string, bool) {
	identity, ok := servicecontext.GetIdentity(ctx)
	if !ok {
		return "", false
	}
	return ownerKey(identity), true
}

func ownerKey(identity idp.Identity) string {
	if identity.FederatedID != "" {
		return identity.FederatedID
	}
	return identity.Provider + ":" + identity.Subject
}
