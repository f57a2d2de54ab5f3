package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/mcp-relay/internal/idp"
	"github.com/dgellow/mcp-relay/internal/log"
	"github.com/ory/fosite"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStorage keeps clients, tokens and redeemed code markers in three
// collections. Clients are cached in memory after the first read since they
// never change.
type FirestoreStorage struct {
	client          *firestore.Client
	projectID       string
	collection      string
	tokenCollection string
	codeCollection  string

	clients      map[string]*Client
	clientsMutex sync.RWMutex
}

var _ Storage = (*FirestoreStorage)(nil)

// ClientEntity represents the structure stored in Firestore
type ClientEntity struct {
	ID                      string   `firestore:"id"`
	Name                    string   `firestore:"client_name"`
	RedirectURIs            []string `firestore:"redirect_uris"`
	GrantTypes              []string `firestore:"grant_types"`
	ResponseTypes           []string `firestore:"response_types"`
	Scope                   string   `firestore:"scope"`
	Scopes                  []string `firestore:"scopes"`
	TokenEndpointAuthMethod string   `firestore:"token_endpoint_auth_method"`
	Public                  bool     `firestore:"public"`
	CreatedAt               int64    `firestore:"created_at"`
}

func (e *ClientEntity) toClient() *Client {
	return &Client{
		DefaultClient: fosite.DefaultClient{
			ID:            e.ID,
			RedirectURIs:  e.RedirectURIs,
			GrantTypes:    e.GrantTypes,
			ResponseTypes: e.ResponseTypes,
			Scopes:        e.Scopes,
			Public:        e.Public,
		},
		Name:                    e.Name,
		Scope:                   e.Scope,
		TokenEndpointAuthMethod: e.TokenEndpointAuthMethod,
		CreatedAt:               e.CreatedAt,
	}
}

func clientEntity(c *Client) *ClientEntity {
	return &ClientEntity{
		ID:                      c.GetID(),
		Name:                    c.Name,
		RedirectURIs:            c.GetRedirectURIs(),
		GrantTypes:              c.GetGrantTypes(),
		ResponseTypes:           c.GetResponseTypes(),
		Scope:                   c.Scope,
		Scopes:                  c.GetScopes(),
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		Public:                  c.IsPublic(),
		CreatedAt:               c.CreatedAt,
	}
}

// TokenEntity is an issued access token, keyed by the token's SHA-256
type TokenEntity struct {
	Provider    string    `firestore:"provider"`
	Subject     string    `firestore:"sub"`
	FederatedID string    `firestore:"federated_id,omitempty"`
	Email       string    `firestore:"email,omitempty"`
	Name        string    `firestore:"name,omitempty"`
	ResolvedAt  time.Time `firestore:"resolved_at"`
	ClientID    string    `firestore:"client_id,omitempty"`
	Scope       string    `firestore:"scope,omitempty"`
	IssuedAt    time.Time `firestore:"issued_at"`
	ExpiresAt   time.Time `firestore:"expires_at"`
}

func (e *TokenEntity) toRecord() *TokenRecord {
	return &TokenRecord{
		Identity: idp.Identity{
			Provider:    e.Provider,
			Subject:     e.Subject,
			FederatedID: e.FederatedID,
			Email:       e.Email,
			Name:        e.Name,
			ResolvedAt:  e.ResolvedAt,
		},
		ClientID:  e.ClientID,
		Scope:     e.Scope,
		IssuedAt:  e.IssuedAt,
		ExpiresAt: e.ExpiresAt,
	}
}

func tokenEntity(r *TokenRecord) *TokenEntity {
	return &TokenEntity{
		Provider:    r.Identity.Provider,
		Subject:     r.Identity.Subject,
		FederatedID: r.Identity.FederatedID,
		Email:       r.Identity.Email,
		Name:        r.Identity.Name,
		ResolvedAt:  r.Identity.ResolvedAt,
		ClientID:    r.ClientID,
		Scope:       r.Scope,
		IssuedAt:    r.IssuedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

// usedCodeEntity has no expires_at when the code never expires, so the
// sweep query never matches it
type usedCodeEntity struct {
	ExpiresAt time.Time `firestore:"expires_at,omitempty"`
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string) (*FirestoreStorage, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error

	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	s := &FirestoreStorage{
		client:          client,
		projectID:       projectID,
		collection:      collection,
		tokenCollection: collection + "_tokens",
		codeCollection:  collection + "_codes",
		clients:         make(map[string]*Client),
	}

	// Preload is an optimization; lookups fall through to Firestore on a miss
	if err := s.loadClients(ctx); err != nil {
		log.LogError("Failed to load clients from Firestore: %v", err)
	}

	return s, nil
}

func (s *FirestoreStorage) loadClients(ctx context.Context) error {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()

	loaded := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("error iterating Firestore documents: %w", err)
		}

		var entity ClientEntity
		if err := doc.DataTo(&entity); err != nil {
			log.LogError("Failed to unmarshal client from Firestore (client_id: %s): %v", doc.Ref.ID, err)
			continue
		}
		s.clients[entity.ID] = entity.toClient()
		loaded++
	}

	log.Logf("Loaded %d OAuth clients from Firestore", loaded)
	return nil
}

func (s *FirestoreStorage) CreateClient(ctx context.Context, client *Client) error {
	if _, err := s.client.Collection(s.collection).Doc(client.ID).Set(ctx, clientEntity(client)); err != nil {
		return fmt.Errorf("failed to store client in Firestore: %w", err)
	}

	s.clientsMutex.Lock()
	s.clients[client.ID] = client
	s.clientsMutex.Unlock()
	return nil
}

func (s *FirestoreStorage) GetClient(ctx context.Context, clientID string) (*Client, error) {
	s.clientsMutex.RLock()
	client, ok := s.clients[clientID]
	s.clientsMutex.RUnlock()
	if ok {
		return client, nil
	}

	doc, err := s.client.Collection(s.collection).Doc(clientID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client from Firestore: %w", err)
	}

	var entity ClientEntity
	if err := doc.DataTo(&entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	client = entity.toClient()

	s.clientsMutex.Lock()
	s.clients[clientID] = client
	s.clientsMutex.Unlock()
	return client, nil
}

func (s *FirestoreStorage) StoreToken(ctx context.Context, token string, record *TokenRecord) error {
	if _, err := s.client.Collection(s.tokenCollection).Doc(tokenKey(token)).Set(ctx, tokenEntity(record)); err != nil {
		return fmt.Errorf("failed to store token in Firestore: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) GetToken(ctx context.Context, token string) (*TokenRecord, error) {
	doc, err := s.client.Collection(s.tokenCollection).Doc(tokenKey(token)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token from Firestore: %w", err)
	}

	var entity TokenEntity
	if err := doc.DataTo(&entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return entity.toRecord(), nil
}

func (s *FirestoreStorage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	removed, err := s.deleteWhereExpired(ctx, s.tokenCollection, now)
	if err != nil {
		return removed, err
	}
	if _, err := s.deleteWhereExpired(ctx, s.codeCollection, now); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *FirestoreStorage) deleteWhereExpired(ctx context.Context, collection string, now time.Time) (int, error) {
	iter := s.client.Collection(collection).Where("expires_at", "<=", now).Documents(ctx)
	defer iter.Stop()

	removed := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return removed, nil
		}
		if err != nil {
			return removed, fmt.Errorf("error iterating %s: %w", collection, err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return removed, fmt.Errorf("failed to delete %s/%s: %w", collection, doc.Ref.ID, err)
		}
		removed++
	}
}

func (s *FirestoreStorage) MarkCodeUsed(ctx context.Context, codeID string, expiresAt time.Time) (bool, error) {
	_, err := s.client.Collection(s.codeCollection).Doc(codeID).Create(ctx, usedCodeEntity{ExpiresAt: expiresAt})
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record code use: %w", err)
	}
	return true, nil
}

func (s *FirestoreStorage) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
