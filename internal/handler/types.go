// Package handler implements the two per-turn drivers the orchestrator
// delegates to once the intent router has classified a message: the
// Booking Handler, which only ever executes what the FSM
// prescribes, and the Non-Booking Handler, which lets the model choose
// among a fixed read-only tool whitelist before answering conversationally.
package handler

import (
	"github.com/pepeccz/atrevete-orchestrator/internal/intent"
	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// Result is what either handler returns for one turn: the text to send,
// and which tools actually ran, the output auditor's other required input
// alongside the FSM's final state.
type Result struct {
	Reply         string
	ExecutedTools map[string]bool
}

// HistoryMessage aliases intent.HistoryMessage so handler prompts are
// built from the same shape the intent classifier already consumes.
type HistoryMessage = intent.HistoryMessage

func historyFromConversation(c *state.Conversation, k int) []HistoryMessage {
	msgs := c.Messages
	if len(msgs) > k {
		msgs = msgs[len(msgs)-k:]
	}
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// noopResult is returned by code paths that genuinely have nothing to do
// this turn (e.g. an intent the FSM already fully handled).
func noopResult(reply string) Result {
	return Result{Reply: reply, ExecutedTools: map[string]bool{}}
}
