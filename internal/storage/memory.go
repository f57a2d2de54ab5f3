package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/mcp-relay/internal/log"
)

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps clients and tokens for the lifetime of the process.
// Keys are generated by the owning operation, so writers rarely contend;
// the locks only make the maps safe for concurrent use.
type MemoryStorage struct {
	clients      map[string]*Client
	clientsMutex sync.RWMutex

	tokens      map[string]*TokenRecord
	tokensMutex sync.RWMutex

	usedCodes      map[string]time.Time
	usedCodesMutex sync.Mutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		clients:   make(map[string]*Client),
		tokens:    make(map[string]*TokenRecord),
		usedCodes: make(map[string]time.Time),
	}
}

func (s *MemoryStorage) CreateClient(_ context.Context, client *Client) error {
	s.clientsMutex.Lock()
	s.clients[client.ID] = client
	clientCount := len(s.clients)
	s.clientsMutex.Unlock()

	log.LogDebugWithFields("storage", "Registered client", map[string]any{
		"client_id":     client.ID,
		"redirect_uris": client.RedirectURIs,
		"total_clients": clientCount,
	})
	return nil
}

func (s *MemoryStorage) GetClient(_ context.Context, clientID string) (*Client, error) {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return client, nil
}

func (s *MemoryStorage) StoreToken(_ context.Context, token string, record *TokenRecord) error {
	s.tokensMutex.Lock()
	defer s.tokensMutex.Unlock()

	rec := *record
	s.tokens[token] = &rec
	return nil
}

func (s *MemoryStorage) GetToken(_ context.Context, token string) (*TokenRecord, error) {
	s.tokensMutex.RLock()
	defer s.tokensMutex.RUnlock()

	record, ok := s.tokens[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	rec := *record
	return &rec, nil
}

func (s *MemoryStorage) DeleteExpiredTokens(_ context.Context, now time.Time) (int, error) {
	s.tokensMutex.Lock()
	removed := 0
	for token, record := range s.tokens {
		if record.Expired(now) {
			delete(s.tokens, token)
			removed++
		}
	}
	s.tokensMutex.Unlock()

	s.usedCodesMutex.Lock()
	for id, expiresAt := range s.usedCodes {
		if !expiresAt.IsZero() && !now.Before(expiresAt) {
			delete(s.usedCodes, id)
		}
	}
	s.usedCodesMutex.Unlock()

	return removed, nil
}

func (s *MemoryStorage) MarkCodeUsed(_ context.Context, codeID string, expiresAt time.Time) (bool, error) {
	s.usedCodesMutex.Lock()
	defer s.usedCodesMutex.Unlock()

	if _, seen := s.usedCodes[codeID]; seen {
		return false, nil
	}
	s.usedCodes[codeID] = expiresAt
	return true, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
