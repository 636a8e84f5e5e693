package tools

import (
	"context"
	"fmt"

	"github.com/pepeccz/atrevete-orchestrator/internal/fsm"
)

// ExecuteSequence runs an FSM-prescribed tool call sequence in order: a
// required call's failure aborts the sequence
// and is returned as-is so the caller can surface it as the turn's error;
// an optional call's failure is instead folded into that call's own
// result under "error" and execution continues with the next call.
// Successful results are merged into one map, keyed by each call's own
// top-level keys (callers pass them straight to formatter.MergeVars).
func ExecuteSequence(ctx context.Context, exec Executor, calls []fsm.ToolCall) (map[string]any, error) {
	merged := make(map[string]any)
	for _, call := range calls {
		res, err := exec.Call(ctx, Name(call.Name), Args(call.Args))
		if err != nil {
			if call.Required {
				return merged, fmt.Errorf("tools: required tool %q failed: %w", call.Name, err)
			}
			merged[call.Name] = map[string]any{"error": err.Error()}
			continue
		}
		for k, v := range res {
			merged[k] = v
		}
	}
	return merged, nil
}
