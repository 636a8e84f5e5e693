package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// PolicyRepo reads freeform policy rows, including the "faq_"-prefixed
// entries the query_info tool surfaces.
type PolicyRepo struct {
	exec execer
}

// NewPolicyRepo builds a repository backed by pool.
func NewPolicyRepo(pool execer) *PolicyRepo {
	return &PolicyRepo{exec: pool}
}

// Get returns the value for key, if set.
func (r *PolicyRepo) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT value FROM policies WHERE key = $1`
	var value string
	err := r.exec.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("db: get policy %q: %w", key, err)
	}
	return value, true, nil
}

// FAQs returns every policy row whose key is prefixed "faq_", the set
// query_info searches over for a free-text question.
func (r *PolicyRepo) FAQs(ctx context.Context) ([]state.Policy, error) {
	const query = `SELECT key, value FROM policies WHERE key LIKE 'faq\_%' ESCAPE '\' ORDER BY key`
	rows, err := r.exec.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db: list faqs: %w", err)
	}
	defer rows.Close()

	var out []state.Policy
	for rows.Next() {
		var p state.Policy
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("db: scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SalonAddress is a convenience accessor over the "salon_address" policy
// key, used to fill the booking confirmation template's salon_address
// var.
func (r *PolicyRepo) SalonAddress(ctx context.Context) (string, error) {
	value, found, err := r.Get(ctx, "salon_address")
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return strings.TrimSpace(value), nil
}
