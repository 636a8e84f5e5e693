// Package intent classifies one raw user message into a typed fsm.Intent
// given the conversation's current FSM state and recent history.
// It never trusts the model past the confidence floor: a malformed
// response, an out-of-enum intent name, or a low confidence score all
// collapse to the same synthetic UNKNOWN the rest of the pipeline already
// knows how to handle gracefully.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pepeccz/atrevete-orchestrator/internal/fsm"
	"github.com/pepeccz/atrevete-orchestrator/internal/llm"
)

// Completer is the narrow LLM capability the classifier needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

// HistoryMessage is one of the last k turns fed into the prompt for
// context.
type HistoryMessage struct {
	Role    string
	Content string
}

// Request carries everything the classifier's prompt is built from.
type Request struct {
	Message       string
	State         fsm.State
	CollectedData map[string]any
	History       []HistoryMessage // last k=5 turns, oldest first
}

// Classifier wraps an LLM completer with the state-aware prompt and the
// confidence gate.
type Classifier struct {
	llm        Completer
	model      string
	confidence float64 // τ
}

// New builds a Classifier. tau <= 0 uses the default threshold of 0.7.
func New(llmClient Completer, model string, tau float64) *Classifier {
	if tau <= 0 {
		tau = 0.7
	}
	return &Classifier{llm: llmClient, model: model, confidence: tau}
}

// validIntents lists the intents offered for each state, used to build
// the prompt's "valid intents" list. Classify does not check a result
// against it: any known intent is accepted whatever the state.
var validIntents = map[fsm.State][]fsm.IntentType{
	fsm.StateIdle: {
		fsm.IntentStartBooking, fsm.IntentGreeting, fsm.IntentFAQ,
		fsm.IntentEscalate, fsm.IntentUpdateName, fsm.IntentCheckMyAppointments,
	},
	fsm.StateServiceSelection: {
		fsm.IntentSelectService, fsm.IntentConfirmServices, fsm.IntentSelectStylist,
		fsm.IntentCancelBooking, fsm.IntentFAQ, fsm.IntentEscalate,
	},
	fsm.StateStylistSelection: {
		fsm.IntentSelectStylist, fsm.IntentCancelBooking, fsm.IntentFAQ, fsm.IntentEscalate,
	},
	fsm.StateSlotSelection: {
		fsm.IntentSelectSlot, fsm.IntentCheckAvailability, fsm.IntentConfirmStylistChange,
		fsm.IntentCancelBooking, fsm.IntentFAQ, fsm.IntentEscalate,
	},
	fsm.StateCustomerData: {
		fsm.IntentProvideCustomerData, fsm.IntentUseCustomerName, fsm.IntentProvideThirdPartyBooking,
		fsm.IntentConfirmName, fsm.IntentCorrectName, fsm.IntentCancelBooking, fsm.IntentEscalate,
	},
	fsm.StateConfirmation: {
		fsm.IntentConfirmBooking, fsm.IntentCancelBooking, fsm.IntentFAQ, fsm.IntentEscalate,
	},
	fsm.StateBooked: {
		fsm.IntentStartBooking, fsm.IntentGreeting, fsm.IntentFAQ, fsm.IntentEscalate,
	},
}

// allIntents is the full enum, used to reject a classification whose
// intent_type isn't recognized at all, regardless of state.
var allIntents = buildAllIntents()

func buildAllIntents() map[fsm.IntentType]bool {
	out := map[fsm.IntentType]bool{
		fsm.IntentConfirmAppointment: true, fsm.IntentDeclineAppointment: true,
		fsm.IntentInitiateCancellation: true, fsm.IntentSelectCancellation: true,
		fsm.IntentConfirmCancellation: true, fsm.IntentAbortCancellation: true,
		fsm.IntentInsistCancellation: true, fsm.IntentConfirmDecline: true,
		fsm.IntentAbortDecline: true, fsm.IntentCheckMyAppointments: true,
		fsm.IntentUnknown: true,
	}
	for _, list := range validIntents {
		for _, it := range list {
			out[it] = true
		}
	}
	return out
}

// rawClassification is the JSON shape requested from the model.
type rawClassification struct {
	IntentType   string         `json:"intent_type"`
	Entities     map[string]any `json:"entities"`
	Confidence   float64        `json:"confidence"`
	ServiceQuery string         `json:"service_query"`
}

// unknownIntent is the synthetic fallback every failure mode collapses to.
func unknownIntent(raw string) fsm.Intent {
	return fsm.Intent{Type: fsm.IntentUnknown, Confidence: 0, RawMessage: raw, Entities: map[string]any{}}
}

// Classify runs the full procedure: build the prompt, call the model,
// parse its JSON (tolerating markdown fences), and gate on confidence and
// enum membership. It never returns an error for a model or parse
// failure — only for a context cancellation or a caller bug (nil llm).
func (c *Classifier) Classify(ctx context.Context, req Request) (fsm.Intent, error) {
	if c.llm == nil {
		return fsm.Intent{}, fmt.Errorf("intent: classifier has no llm client")
	}

	prompt := buildPrompt(req)
	resp, err := c.llm.Complete(ctx, llm.Request{
		Model:       c.model,
		System:      []string{systemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   400,
		Temperature: 0,
	})
	if err != nil {
		// Network and timeout errors produce a synthetic UNKNOWN rather
		// than propagating.
		if ctx.Err() != nil {
			return fsm.Intent{}, ctx.Err()
		}
		return unknownIntent(req.Message), nil
	}

	raw, ok := parseClassification(resp.Text)
	if !ok {
		return unknownIntent(req.Message), nil
	}

	intentType := fsm.IntentType(strings.ToUpper(strings.TrimSpace(raw.IntentType)))
	if !allIntents[intentType] {
		return unknownIntent(req.Message), nil
	}
	if raw.Confidence < c.confidence {
		return unknownIntent(req.Message), nil
	}

	entities := raw.Entities
	if entities == nil {
		entities = map[string]any{}
	}

	return fsm.Intent{
		Type:         intentType,
		Entities:     entities,
		Confidence:   raw.Confidence,
		RawMessage:   req.Message,
		ServiceQuery: raw.ServiceQuery,
	}, nil
}

// parseClassification extracts the JSON object from text, stripping a
// ```json ... ``` or bare ``` ... ``` fence if the model wrapped its
// answer in one.
func parseClassification(text string) (rawClassification, bool) {
	cleaned := stripFences(text)
	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end < start {
		return rawClassification{}, false
	}
	var raw rawClassification
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err != nil {
		return rawClassification{}, false
	}
	return raw, true
}

func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

const systemPrompt = "Eres el clasificador de intención de un asistente de reservas de un salón de belleza. " +
	"Responde únicamente con un objeto JSON {intent_type, entities, confidence, service_query}. " +
	"confidence es un número entre 0 y 1. No expliques tu razonamiento."

// buildPrompt carries the state enum, the valid-intents list for that
// state, the keys (not values) currently present in collected_data, and
// the last k history turns, plus the state-aware disambiguation note for
// bare numeric replies.
func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Estado actual: %s\n", req.State)

	valid := validIntents[req.State]
	names := make([]string, 0, len(valid))
	for _, it := range valid {
		names = append(names, string(it))
	}
	sort.Strings(names)
	fmt.Fprintf(&b, "Intenciones válidas en este estado: %s\n", strings.Join(names, ", "))

	keys := make([]string, 0, len(req.CollectedData))
	for k := range req.CollectedData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(&b, "Campos ya recopilados: %s\n", strings.Join(keys, ", "))

	if hint, ok := numericHints[req.State]; ok {
		fmt.Fprintf(&b, "Si el usuario responde solo con un número, significa: %s\n", hint)
	}

	if len(req.History) > 0 {
		b.WriteString("Historial reciente:\n")
		for _, m := range req.History {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}

	fmt.Fprintf(&b, "Mensaje del usuario: %q\n", req.Message)
	return b.String()
}

var numericHints = map[fsm.State]string{
	fsm.StateServiceSelection: `"1" selecciona el servicio número 1 de la lista mostrada`,
	fsm.StateStylistSelection: `"1" selecciona el estilista número 1 de la lista mostrada`,
	fsm.StateSlotSelection:    `"1" selecciona el horario número 1 de la lista mostrada`,
}
