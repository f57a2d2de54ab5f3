package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgellow/mcp-relay/internal/idp"
	"github.com/dgellow/mcp-relay/internal/servicecontext"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestAdd(t *testing.T) {
	s := NewServer("test", "1.0.0", "/mcp")

	result, err := s.handleAdd(context.Background(), callRequest("add", map[string]any{"a": 2.5, "b": 4.0}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, AddResult{Sum: 6.5}, result.StructuredContent)
	assert.Equal(t, "6.5", resultText(t, result))

	result, err = s.handleAdd(context.Background(), callRequest("add", map[string]any{"a": 1.0}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCreateTodo(t *testing.T) {
	s := NewServer("test", "1.0.0", "/mcp")
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	alice := servicecontext.WithIdentity(context.Background(), idp.Identity{Provider: "cognito", Subject: "u1"})
	bob := servicecontext.WithIdentity(context.Background(), idp.Identity{Provider: "oidc", Subject: "g1", FederatedID: "eu-west-1:bob"})

	result, err := s.handleCreateTodo(alice, callRequest("create_todo", map[string]any{"title": "buy milk"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	todo, ok := result.StructuredContent.(Todo)
	require.True(t, ok)
	assert.Equal(t, "buy milk", todo.Title)
	assert.Equal(t, "cognito:u1", todo.Owner)
	assert.NotEmpty(t, todo.ID)

	_, err = s.handleCreateTodo(bob, callRequest("create_todo", map[string]any{"title": "ship it"}))
	require.NoError(t, err)

	result, err = s.handleListTodos(alice, callRequest("list_todos", nil))
	require.NoError(t, err)
	listed := result.StructuredContent.(map[string]any)["todos"].([]Todo)
	require.Len(t, listed, 1)
	assert.Equal(t, "buy milk", listed[0].Title)

	result, err = s.handleListTodos(bob, callRequest("list_todos", nil))
	require.NoError(t, err)
	listed = result.StructuredContent.(map[string]any)["todos"].([]Todo)
	require.Len(t, listed, 1)
	assert.Equal(t, "eu-west-1:bob", listed[0].Owner)
}

func TestCreateTodo_Rejections(t *testing.T) {
	s := NewServer("test", "1.0.0", "/mcp")
	ctx := servicecontext.WithIdentity(context.Background(), idp.Identity{Provider: "cognito", Subject: "u1"})

	tests := []struct {
		name string
		ctx  context.Context
		args map[string]any
	}{
		{name: "no identity", ctx: context.Background(), args: map[string]any{"title": "x"}},
		{name: "missing title", ctx: ctx, args: map[string]any{}},
		{name: "empty title", ctx: ctx, args: map[string]any{"title": ""}},
		{name: "title too long", ctx: ctx, args: map[string]any{"title": string(make([]byte, maxTitleLength+1))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleCreateTodo(tt.ctx, callRequest("create_todo", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

// postRPC sends one JSON-RPC message to handler and returns the response
func postRPC(t *testing.T, handler http.Handler, sessionID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(mcpserver.HeaderKeySessionID, sessionID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ToolCallsSeeSessionAndIdentity(t *testing.T) {
	s := NewServer("test", "1.0.0", "/mcp")

	type seen struct {
		SessionID string `json:"session_id"`
		Owner     string `json:"owner"`
	}
	s.mcpServer.AddTool(mcp.NewTool("whoami"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var out seen
		if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
			out.SessionID = session.SessionID()
		}
		out.Owner, _ = ownerFromContext(ctx)
		return mcp.NewToolResultStructured(out, "whoami"), nil
	})

	identity := idp.Identity{Provider: "cognito", Subject: "u1"}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Handler().ServeHTTP(w, r.WithContext(servicecontext.WithIdentity(r.Context(), identity)))
	})

	rec := postRPC(t, handler, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sessionID := rec.Header().Get(mcpserver.HeaderKeySessionID)
	require.NotEmpty(t, sessionID)

	rec = postRPC(t, handler, sessionID, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"whoami","arguments":{}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Result struct {
			StructuredContent seen `json:"structuredContent"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	assert.Equal(t, sessionID, resp.Result.StructuredContent.SessionID)
	assert.Equal(t, "cognito:u1", resp.Result.StructuredContent.Owner)
}
