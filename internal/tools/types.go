// Package tools implements the fixed set of side-effectful capabilities
// the booking pipeline invokes: catalog search, availability search,
// booking commit, info lookup, customer management, and escalation.
// Tools never mutate FSM state directly — they return a structured
// result the formatter renders and, for the booking flow, the FSM's next
// RequiredAction consumes.
package tools

import "context"

// Name identifies one of the fixed tools by the exact string the FSM and
// the non-booking handler's LLM tool-choice use.
type Name string

const (
	NameSearchServices    Name = "search_services"
	NameListStylists      Name = "list_stylists"
	NameQueryInfo         Name = "query_info"
	NameCheckAvailability Name = "check_availability"
	NameFindNextAvailable Name = "find_next_available"
	NameBook              Name = "book"
	NameManageCustomer    Name = "manage_customer"
	NameEscalateToHuman   Name = "escalate_to_human"
)

// ReadOnlyTools is the safe whitelist the non-booking handler's LLM may
// pick from; book and find_next_available/check_availability are
// deliberately excluded since committing a slot or quoting availability
// without the FSM's prescriptive guardrails would let the model invent a
// reservation the booking flow never validated.
var ReadOnlyTools = []Name{NameQueryInfo, NameSearchServices, NameManageCustomer, NameEscalateToHuman}

// Args is a tool call's input, keyed the same way as the FSM's
// fsm.ToolCall.Args and the LLM's chosen-tool arguments.
type Args map[string]any

// Result is a tool's structured output, flattened into the response
// formatter's template variables under the tool's own name.
type Result map[string]any

// Executor runs one named tool call. Implemented by *Registry; callers
// needing only a subset (e.g. the non-booking handler's read-only
// whitelist) depend on this interface rather than the concrete registry.
type Executor interface {
	Call(ctx context.Context, name Name, args Args) (Result, error)
}

func str(args Args, key string) string {
	v, _ := args[key].(string)
	return v
}

func strSlice(args Args, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func intArg(args Args, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
