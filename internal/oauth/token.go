package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/mcp-relay/internal/crypto"
	"github.com/dgellow/mcp-relay/internal/idp"
	jsonwriter "github.com/dgellow/mcp-relay/internal/json"
	"github.com/dgellow/mcp-relay/internal/storage"
)

// ErrInvalidBearer is returned for a bearer token this process never issued,
// or one past its lifetime when expiry is enforced
var ErrInvalidBearer = errors.New("invalid bearer token")

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

func WriteTokenResponse(w http.ResponseWriter, resp *TokenResponse) {
	_ = jsonwriter.WriteNoStore(w, http.StatusOK, resp)
}

// TokenIssuer mints opaque bearer tokens and records them in the token store
type TokenIssuer struct {
	store storage.TokenStore
	ttl   time.Duration
	now   func() time.Time
}

func NewTokenIssuer(store storage.TokenStore, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{store: store, ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) Issue(ctx context.Context, identity idp.Identity, clientID, scope string) (*TokenResponse, error) {
	token, err := crypto.GenerateAccessToken()
	if err != nil {
		return nil, err
	}

	now := t.now().UTC()
	record := &storage.TokenRecord{
		Identity:  identity,
		ClientID:  clientID,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(t.ttl),
	}
	if err := t.store.StoreToken(ctx, token, record); err != nil {
		return nil, fmt.Errorf("storing access token: %w", err)
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(t.ttl / time.Second),
		Scope:       scope,
	}, nil
}

// BearerValidator resolves a presented bearer token to its identity
type BearerValidator struct {
	store         storage.TokenStore
	enforceExpiry bool
	now           func() time.Time
}

func NewBearerValidator(store storage.TokenStore, enforceExpiry bool) *BearerValidator {
	return &BearerValidator{store: store, enforceExpiry: enforceExpiry, now: time.Now}
}

// Validate is a pure store lookup unless expiry enforcement is on. Store
// failures other than a miss are returned as is.
func (v *BearerValidator) Validate(ctx context.Context, token string) (*storage.TokenRecord, error) {
	if token == "" {
		return nil, ErrInvalidBearer
	}
	record, err := v.store.GetToken(ctx, token)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return nil, ErrInvalidBearer
	}
	if err != nil {
		return nil, err
	}
	if v.enforceExpiry && record.Expired(v.now()) {
		return nil, ErrInvalidBearer
	}
	return record, nil
}
