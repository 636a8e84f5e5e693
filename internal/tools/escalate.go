package tools

import (
	"context"
)

// escalateToHuman implements the escalate_to_human tool: disables the
// bot on the conversation and raises an admin notification. reason is
// the only field the LLM (or the orchestrator's auto-escalation gate)
// chooses; conversation_id and phone are injected by the caller, never by
// the model.
func (r *Registry) escalateToHuman(ctx context.Context, args Args) (Result, error) {
	reason := str(args, "reason")
	if reason == "" {
		reason = "El cliente solicitó hablar con una persona."
	}
	conversationID := str(args, "conversation_id")

	if r.cfg.Messaging != nil && conversationID != "" {
		if err := r.cfg.Messaging.UpdateConversationAttributes(ctx, conversationID, map[string]any{"bot_enabled": false}); err != nil {
			r.cfg.Logger.Error("tools: escalate_to_human: failed to disable bot", "error", err, "conversation_id", conversationID)
		}
	}

	if r.cfg.Notifier != nil {
		if err := r.cfg.Notifier.Escalate(ctx, conversationID, reason); err != nil {
			r.cfg.Logger.Error("tools: escalate_to_human: notify failed", "error", err)
		}
	}

	return Result{
		"escalated": true,
		"reason":    reason,
		"message":   "Te paso con una persona de nuestro equipo, te atenderán en breve.",
	}, nil
}
