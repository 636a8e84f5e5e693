package handler

import (
	"context"

	"github.com/pepeccz/atrevete-orchestrator/internal/fsm"
	"github.com/pepeccz/atrevete-orchestrator/internal/formatter"
	"github.com/pepeccz/atrevete-orchestrator/internal/tools"
)

// BookingHandler runs the prescriptive path: once the FSM has already transitioned on a
// booking intent, this is the only thing that runs tools for the rest of
// the turn — it never asks a model what to do, only what to say.
type BookingHandler struct {
	exec      tools.Executor
	completer formatter.Completer
	model     string
}

// NewBookingHandler builds a handler backed by exec, the registry every
// FSM-prescribed tool call is routed through.
func NewBookingHandler(exec tools.Executor, completer formatter.Completer, model string) *BookingHandler {
	return &BookingHandler{exec: exec, completer: completer, model: model}
}

// Handle asks f for its RequiredAction and carries it out: executing any
// prescribed tool calls in order (a failing required call aborts and
// propagates) and rendering the resulting reply.
func (h *BookingHandler) Handle(ctx context.Context, f *fsm.FSM) (Result, error) {
	action := f.RequiredAction()

	switch action.Type {
	case fsm.ActionCallTools:
		merged, err := tools.ExecuteSequence(ctx, h.exec, action.ToolCalls)
		if err != nil {
			return Result{}, err
		}
		vars := formatter.MergeVars(action.TemplateVars, merged)
		reply := formatter.Format(ctx, action.ResponseTemplate, vars, action.AllowLLMCreativity, h.completer, h.model)
		executed := make(map[string]bool, len(action.ToolCalls))
		for _, call := range action.ToolCalls {
			executed[call.Name] = true
		}
		return Result{Reply: reply, ExecutedTools: executed}, nil

	case fsm.ActionGenerateResponse:
		reply := formatter.Format(ctx, action.ResponseTemplate, action.TemplateVars, action.AllowLLMCreativity, h.completer, h.model)
		return noopResult(reply), nil

	default:
		return noopResult(""), nil
	}
}
