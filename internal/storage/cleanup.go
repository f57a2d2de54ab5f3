package storage

import (
	"context"
	"time"

	"github.com/dgellow/mcp-relay/internal/log"
)

// CleanupManager periodically removes expired tokens and code markers
type CleanupManager struct {
	store    TokenStore
	interval time.Duration
	now      func() time.Time
}

func NewCleanupManager(store TokenStore, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		store:    store,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done
func (cm *CleanupManager) Run(ctx context.Context) error {
	log.LogInfoWithFields("cleanup", "Starting token cleanup manager", map[string]any{
		"interval": cm.interval.String(),
	})

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.cleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-ctx.Done():
			log.LogInfoWithFields("cleanup", "Token cleanup manager stopped", nil)
			return nil
		}
	}
}

func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.store.DeleteExpiredTokens(ctx, cm.now())
	if err != nil {
		log.LogErrorWithFields("cleanup", "Failed to cleanup expired tokens", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if count > 0 {
		log.LogInfoWithFields("cleanup", "Cleaned up expired tokens", map[string]any{
			"count": count,
		})
	}
}
