package db

import (
	"context"
	"fmt"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// ServiceRepo reads the service catalog and implements
// catalog.ServiceSource.
type ServiceRepo struct {
	exec execer
}

// NewServiceRepo builds a repository backed by pool.
func NewServiceRepo(pool execer) *ServiceRepo {
	return &ServiceRepo{exec: pool}
}

// ActiveServices implements catalog.ServiceSource.
func (r *ServiceRepo) ActiveServices(ctx context.Context) ([]state.Service, error) {
	const query = `
		SELECT id, name, duration_minutes, category, active
		FROM services
		WHERE active = true
		ORDER BY name
	`
	rows, err := r.exec.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db: list active services: %w", err)
	}
	defer rows.Close()

	var out []state.Service
	for rows.Next() {
		var svc state.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.Category, &svc.Active); err != nil {
			return nil, fmt.Errorf("db: scan service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// Get returns one service by id, active or not (used by the book tool to
// re-resolve a service id chosen earlier in the conversation).
func (r *ServiceRepo) Get(ctx context.Context, id string) (state.Service, bool, error) {
	const query = `SELECT id, name, duration_minutes, category, active FROM services WHERE id = $1`
	var svc state.Service
	err := r.exec.QueryRow(ctx, query, id).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.Category, &svc.Active)
	if err != nil {
		return state.Service{}, false, nil
	}
	return svc, true, nil
}
