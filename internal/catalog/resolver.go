// Package catalog resolves free-text service queries against the active
// catalog. Matching is hand-rolled Levenshtein distance over the
// active-service names; no fuzzy-matching library is used.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// MaxAmbiguityOptions bounds how many candidates an ambiguous query
// surfaces to the conversation.
const MaxAmbiguityOptions = 5

// ServiceSource lists the active catalog the resolver matches against.
type ServiceSource interface {
	ActiveServices(ctx context.Context) ([]state.Service, error)
}

// NotFoundError reports a query with zero matches; the resolver never
// guesses silently on an empty result.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog: no service matches %q", e.Query)
}

// Option is one candidate in an ambiguity result.
type Option struct {
	ID              string
	Name            string
	DurationMinutes int
	Category        state.ServiceCategory
}

// Ambiguity is returned when a query matches more than one service
// closely enough that guessing would be wrong.
type Ambiguity struct {
	Query   string
	Options []Option
}

func (a *Ambiguity) Error() string {
	return fmt.Sprintf("catalog: %q is ambiguous among %d options", a.Query, len(a.Options))
}

// Resolver fuzzy-matches free text against the active service catalog.
type Resolver struct {
	services ServiceSource
}

// New builds a Resolver backed by services.
func New(services ServiceSource) *Resolver {
	return &Resolver{services: services}
}

type scored struct {
	service state.Service
	score   float64
}

// Resolve returns the single service identifier matching query: an
// entry whose name equals query case-insensitively, or the best fuzzy
// candidate when it is the only one or its score beats the runner-up's by
// more than 0.15. Otherwise it returns *Ambiguity (more than one close
// candidate) or *NotFoundError (no candidate at all).
func (r *Resolver) Resolve(ctx context.Context, query string) (state.Service, error) {
	services, err := r.services.ActiveServices(ctx)
	if err != nil {
		return state.Service{}, fmt.Errorf("catalog: load active services: %w", err)
	}

	normalized := normalize(query)
	if normalized == "" {
		return state.Service{}, &NotFoundError{Query: query}
	}

	for _, svc := range services {
		if normalize(svc.Name) == normalized {
			return svc, nil
		}
	}

	ranked := rank(services, normalized)
	if len(ranked) == 0 {
		return state.Service{}, &NotFoundError{Query: query}
	}
	if len(ranked) == 1 || ranked[0].score-ranked[1].score > 0.15 {
		return ranked[0].service, nil
	}

	return state.Service{}, &Ambiguity{Query: query, Options: toOptions(ranked)}
}

// Search returns up to maxResults active services ranked by closeness to
// query, for search_services' top-N listing. An empty query returns the
// catalog unranked, capped at maxResults.
func (r *Resolver) Search(ctx context.Context, query string, maxResults int) ([]state.Service, int, error) {
	services, err := r.services.ActiveServices(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: load active services: %w", err)
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	normalized := normalize(query)
	if normalized == "" {
		if len(services) > maxResults {
			return services[:maxResults], len(services), nil
		}
		return services, len(services), nil
	}

	ranked := rank(services, normalized)
	out := make([]state.Service, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, s.service)
	}
	total := len(out)
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, total, nil
}

// ResolveDuration computes the total duration of serviceNames, resolving
// each through Resolve. On ambiguity it conservatively picks the first
// option and reports it through warn, mirroring the reference resolver's
// logged-warning fallback rather than aborting the whole computation.
func (r *Resolver) ResolveDuration(ctx context.Context, serviceNames []string, warn func(query string, chosen string)) (int, error) {
	total := 0
	for _, name := range serviceNames {
		svc, err := r.Resolve(ctx, name)
		if err != nil {
			var ambiguous *Ambiguity
			if asAmbiguity(err, &ambiguous) && len(ambiguous.Options) > 0 {
				total += ambiguous.Options[0].DurationMinutes
				if warn != nil {
					warn(name, ambiguous.Options[0].Name)
				}
				continue
			}
			return 0, err
		}
		total += svc.DurationMinutes
	}
	return total, nil
}

func asAmbiguity(err error, out **Ambiguity) bool {
	a, ok := err.(*Ambiguity)
	if !ok {
		return false
	}
	*out = a
	return true
}

func toOptions(ranked []scored) []Option {
	n := len(ranked)
	if n > MaxAmbiguityOptions {
		n = MaxAmbiguityOptions
	}
	out := make([]Option, 0, n)
	for _, s := range ranked[:n] {
		out = append(out, Option{
			ID:              s.service.ID,
			Name:            s.service.Name,
			DurationMinutes: s.service.DurationMinutes,
			Category:        s.service.Category,
		})
	}
	return out
}

// rank scores every active service against the query's normalized form
// and returns candidates with a non-zero score, best first. Entries whose
// name contains the query (or vice versa) as a substring always beat a
// pure edit-distance match.
func rank(services []state.Service, normalizedQuery string) []scored {
	var out []scored
	for _, svc := range services {
		name := normalize(svc.Name)
		var score float64
		switch {
		case strings.Contains(name, normalizedQuery) || strings.Contains(normalizedQuery, name):
			score = 0.9
		default:
			score = similarity(name, normalizedQuery)
		}
		if score >= 0.5 {
			out = append(out, scored{service: svc, score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// similarity maps Levenshtein distance to a 0..1 score relative to the
// longer of the two strings, so short and long names aren't penalized
// unevenly.
func similarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein(a, b)
	return 1 - float64(dist)/float64(longest)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
