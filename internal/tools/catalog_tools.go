package tools

import (
	"context"
	"fmt"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// searchServices implements the search_services tool: a fuzzy top-N
// catalog search. A query with zero matches is not an error from the
// tool's perspective — it reports an empty list plus a note, since the
// handler still needs a reply to send rather than an aborted turn.
func (r *Registry) searchServices(ctx context.Context, args Args) (Result, error) {
	query := str(args, "query")
	maxResults := intArg(args, "max_results", 10)

	services, total, err := r.cfg.Resolver.Search(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("tools: search_services: %w", err)
	}

	out := make([]map[string]any, 0, len(services))
	for _, svc := range services {
		out = append(out, map[string]any{
			"id":               svc.ID,
			"name":             svc.Name,
			"duration_minutes": svc.DurationMinutes,
			"category":         string(svc.Category),
		})
	}

	res := Result{
		"services":     out,
		"count_shown":  len(out),
		"count_total":  total,
	}
	if len(out) == 0 {
		res["note"] = "No encontramos servicios que coincidan con esa búsqueda."
	}
	return res, nil
}

// listStylists implements the list_stylists tool: the active roster for
// a service category.
func (r *Registry) listStylists(ctx context.Context, args Args) (Result, error) {
	category := state.ServiceCategory(str(args, "category"))
	if category == "" {
		category = state.CategoryHairdressing
	}

	stylists, err := r.cfg.Stylists.ActiveByCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("tools: list_stylists: %w", err)
	}

	out := make([]map[string]any, 0, len(stylists))
	for _, st := range stylists {
		out = append(out, map[string]any{"id": st.ID, "name": st.Name})
	}
	return Result{"stylists": out}, nil
}
