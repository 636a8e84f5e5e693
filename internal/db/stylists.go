package db

import (
	"context"
	"fmt"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// StylistRepo reads stylist rows.
type StylistRepo struct {
	exec execer
}

// NewStylistRepo builds a repository backed by pool.
func NewStylistRepo(pool execer) *StylistRepo {
	return &StylistRepo{exec: pool}
}

// ActiveByCategory lists active stylists who perform services in category,
// backing the list_stylists tool.
func (r *StylistRepo) ActiveByCategory(ctx context.Context, category state.ServiceCategory) ([]state.Stylist, error) {
	const query = `
		SELECT id, name, categories, calendar_id, active
		FROM stylists
		WHERE active = true AND $1 = ANY(categories)
		ORDER BY name
	`
	rows, err := r.exec.Query(ctx, query, string(category))
	if err != nil {
		return nil, fmt.Errorf("db: list stylists by category: %w", err)
	}
	defer rows.Close()

	var out []state.Stylist
	for rows.Next() {
		var st state.Stylist
		var categories []string
		if err := rows.Scan(&st.ID, &st.Name, &categories, &st.CalendarID, &st.Active); err != nil {
			return nil, fmt.Errorf("db: scan stylist: %w", err)
		}
		st.Categories = toCategories(categories)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Get returns one stylist by id.
func (r *StylistRepo) Get(ctx context.Context, id string) (state.Stylist, bool, error) {
	const query = `SELECT id, name, categories, calendar_id, active FROM stylists WHERE id = $1`
	var st state.Stylist
	var categories []string
	if err := r.exec.QueryRow(ctx, query, id).Scan(&st.ID, &st.Name, &categories, &st.CalendarID, &st.Active); err != nil {
		return state.Stylist{}, false, nil
	}
	st.Categories = toCategories(categories)
	return st, true, nil
}

func toCategories(raw []string) []state.ServiceCategory {
	out := make([]state.ServiceCategory, 0, len(raw))
	for _, c := range raw {
		out = append(out, state.ServiceCategory(c))
	}
	return out
}
