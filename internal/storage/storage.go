package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/mcp-relay/internal/idp"
	"github.com/ory/fosite"
)

// ErrClientNotFound is returned when a client id was never registered.
// It matches fosite.ErrNotFound under errors.Is.
var ErrClientNotFound = fmt.Errorf("client %w", fosite.ErrNotFound)

// ErrTokenNotFound is returned when a bearer token was never issued
var ErrTokenNotFound = errors.New("token not found")

// TokenRecord is what an issued access token maps to
type TokenRecord struct {
	Identity  idp.Identity `json:"identity"`
	ClientID  string       `json:"client_id,omitempty"`
	Scope     string       `json:"scope,omitempty"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Expired reports whether the declared lifetime has elapsed at now
func (r *TokenRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// ClientRegistry stores dynamically registered clients. Clients are never
// updated or deleted once created.
type ClientRegistry interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// TokenStore maps issued bearer tokens to the identity they were issued for
type TokenStore interface {
	StoreToken(ctx context.Context, token string, record *TokenRecord) error
	GetToken(ctx context.Context, token string) (*TokenRecord, error)
	// DeleteExpiredTokens removes tokens whose ExpiresAt is not after now
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)
	// MarkCodeUsed records codeID as redeemed until expiresAt, or forever
	// when expiresAt is zero. It returns false when codeID was already
	// recorded.
	MarkCodeUsed(ctx context.Context, codeID string, expiresAt time.Time) (bool, error)
}

// Storage combines the registry and token store behind one backend
type Storage interface {
	ClientRegistry
	TokenStore
	Close() error
}

// tokenKey is the key external backends store a token under, so a leaked
// database dump does not leak usable bearer tokens
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
