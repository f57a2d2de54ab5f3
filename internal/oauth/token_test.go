package oauth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgellow/mcp-relay/internal/idp"
	"github.com/dgellow/mcp-relay/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_Issue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	issuer := NewTokenIssuer(store, time.Hour)

	identity := idp.Identity{Provider: "cognito", Subject: "u1", Email: "a@b.com"}
	resp, err := issuer.Issue(ctx, identity, "mcp_client_1_a", "openid profile email")
	require.NoError(t, err)

	assert.Regexp(t, `^[0-9a-f]{64}$`, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, "openid profile email", resp.Scope)

	record, err := store.GetToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", record.Identity.Subject)
	assert.Equal(t, time.Hour, record.ExpiresAt.Sub(record.IssuedAt))
}

func TestWriteTokenResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteTokenResponse(rec, &TokenResponse{AccessToken: "t", TokenType: "Bearer", ExpiresIn: 3600})

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"access_token":"t","token_type":"Bearer","expires_in":3600}`, rec.Body.String())
}

func TestBearerValidator(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	issuer := NewTokenIssuer(store, time.Hour)
	resp, err := issuer.Issue(ctx, idp.Identity{Subject: "u1"}, "c", "")
	require.NoError(t, err)

	t.Run("issued token", func(t *testing.T) {
		record, err := NewBearerValidator(store, false).Validate(ctx, resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "u1", record.Identity.Subject)
	})

	t.Run("never issued", func(t *testing.T) {
		_, err := NewBearerValidator(store, false).Validate(ctx, "deadbeef")
		assert.ErrorIs(t, err, ErrInvalidBearer)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewBearerValidator(store, false).Validate(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidBearer)
	})

	t.Run("expired but not enforced", func(t *testing.T) {
		v := NewBearerValidator(store, false)
		v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := v.Validate(ctx, resp.AccessToken)
		assert.NoError(t, err)
	})

	t.Run("expired and enforced", func(t *testing.T) {
		v := NewBearerValidator(store, true)
		v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := v.Validate(ctx, resp.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidBearer)
	})
}
