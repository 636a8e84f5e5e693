package formatter

import (
	"context"
	"fmt"

	"github.com/pepeccz/atrevete-orchestrator/internal/llm"
)

// Completer is the narrow LLM capability the creativity pass needs,
// mirroring intent.Completer so both packages depend on the same shape
// rather than the concrete *llm.Client.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

// creativityInstruction is the exact rewrite contract given to the model:
// it may only restyle, never invent.
const creativityInstruction = "Reescribe el siguiente mensaje conservando cada número, elemento de lista, " +
	"nombre y el orden en que aparecen. Puedes ajustar el tono y añadir 1 o 2 emojis. " +
	"No inventes ni añadas información nueva. Responde únicamente con el texto reescrito."

// Format runs the full response formatter: deterministic render, then, if
// allowCreativity is set, an LLM rewrite pass that may only restyle the
// rendered text. A render failure falls back to a safe summary of vars
// rather than propagating, since the turn must always produce some reply.
func Format(ctx context.Context, tmpl string, vars map[string]any, allowCreativity bool, completer Completer, modelID string) string {
	rendered, err := Render(tmpl, vars)
	if err != nil {
		return fallbackSummary(vars)
	}
	if !allowCreativity || completer == nil {
		return rendered
	}

	resp, err := completer.Complete(ctx, llm.Request{
		Model:       modelID,
		System:      []string{creativityInstruction},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: rendered}},
		MaxTokens:   500,
		Temperature: 0.4,
	})
	if err != nil || resp.Text == "" {
		return rendered
	}
	return resp.Text
}

// fallbackSummary produces a safe, fact-only reply when the template
// itself failed to render — a bug in one of the fsm action builders, not
// something the customer should ever see as a raw error.
func fallbackSummary(vars map[string]any) string {
	if len(vars) == 0 {
		return "Disculpa, he tenido un problema para generar la respuesta. ¿Puedes repetir tu mensaje?"
	}
	return fmt.Sprintf("Disculpa, he tenido un problema para darte el detalle completo (%d datos disponibles). "+
		"¿Puedes repetir tu mensaje o reformularlo?", len(vars))
}
