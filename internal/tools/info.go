package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

var weekdayNamesEs = [7]string{"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado"}

// queryInfo implements the query_info tool: hours, FAQs, generic
// policies, and the salon's location, dispatched on args["type"].
func (r *Registry) queryInfo(ctx context.Context, args Args) (Result, error) {
	switch str(args, "type") {
	case "hours":
		return r.infoHours(ctx)
	case "faq":
		return r.infoFAQ(ctx, args)
	case "policy":
		return r.infoPolicy(ctx, args)
	case "location":
		return r.infoLocation(ctx)
	default:
		return nil, fmt.Errorf("tools: query_info: unknown info type %q", str(args, "type"))
	}
}

func (r *Registry) infoHours(ctx context.Context) (Result, error) {
	days := make([]map[string]any, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		hours, found, err := r.cfg.Hours.BusinessHoursFor(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("tools: query_info hours: %w", err)
		}
		entry := map[string]any{"day": weekdayNamesEs[d]}
		if !found || hours.Closed {
			entry["closed"] = true
		} else {
			entry["closed"] = false
			entry["start"] = hours.Start
			entry["end"] = hours.End
		}
		days = append(days, entry)
	}
	return Result{"hours": days}, nil
}

func (r *Registry) infoFAQ(ctx context.Context, args Args) (Result, error) {
	faqs, err := r.cfg.Policies.FAQs(ctx)
	if err != nil {
		return nil, fmt.Errorf("tools: query_info faq: %w", err)
	}

	maxResults := intArg(args, "max_results", 5)
	query := strings.ToLower(strings.TrimSpace(str(args, "query")))

	out := make([]map[string]any, 0, len(faqs))
	for _, f := range faqs {
		if query != "" && !strings.Contains(strings.ToLower(f.Value), query) && !strings.Contains(strings.ToLower(f.Key), query) {
			continue
		}
		out = append(out, map[string]any{"key": f.Key, "answer": f.Value})
		if len(out) >= maxResults {
			break
		}
	}
	return Result{"faqs": out, "count": len(out)}, nil
}

func (r *Registry) infoPolicy(ctx context.Context, args Args) (Result, error) {
	key := str(args, "filters")
	if key == "" {
		if filters, ok := args["filters"].(map[string]any); ok {
			key, _ = filters["key"].(string)
		}
	}
	if key == "" {
		return nil, fmt.Errorf("tools: query_info policy: filters.key is required")
	}
	value, found, err := r.cfg.Policies.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("tools: query_info policy: %w", err)
	}
	return Result{"key": key, "value": value, "found": found}, nil
}

func (r *Registry) infoLocation(ctx context.Context) (Result, error) {
	address, err := r.cfg.Policies.SalonAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("tools: query_info location: %w", err)
	}
	return Result{
		"address":   address,
		"site_name": r.cfg.SiteName,
		"site_url":  r.cfg.SiteURL,
	}, nil
}
