package db

import (
	"context"
	"fmt"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// NotificationRepo persists admin-facing Notification rows, implementing
// notify.Store.
type NotificationRepo struct {
	exec execer
}

// NewNotificationRepo builds a repository backed by pool.
func NewNotificationRepo(pool execer) *NotificationRepo {
	return &NotificationRepo{exec: pool}
}

// Insert implements notify.Store.
func (r *NotificationRepo) Insert(ctx context.Context, n state.Notification) error {
	const query = `
		INSERT INTO notifications (id, type, title, message, entity_type, entity_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.exec.Exec(ctx, query, n.ID, n.Type, n.Title, n.Message, n.EntityType, n.EntityID, n.CreatedAt); err != nil {
		return fmt.Errorf("db: insert notification: %w", err)
	}
	return nil
}
