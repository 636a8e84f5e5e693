package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pepeccz/atrevete-orchestrator/internal/errs"
	"github.com/pepeccz/atrevete-orchestrator/internal/fsm"
	"github.com/pepeccz/atrevete-orchestrator/internal/formatter"
	"github.com/pepeccz/atrevete-orchestrator/internal/llm"
	"github.com/pepeccz/atrevete-orchestrator/internal/notify"
	"github.com/pepeccz/atrevete-orchestrator/internal/state"
	"github.com/pepeccz/atrevete-orchestrator/internal/tools"
	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

// historyWindow is the last-k turns fed into the non-booking prompt
//.
const historyWindow = 5

// AppointmentStore is the subset of db.AppointmentRepo the confirmation,
// decline, and cancellation sub-flows need.
type AppointmentStore interface {
	Get(ctx context.Context, id string) (state.Appointment, bool, error)
	MarkConfirmed(ctx context.Context, id string) error
	MarkCancelled(ctx context.Context, id string) error
	ListUpcomingByCustomer(ctx context.Context, customerID string, now time.Time) ([]state.Appointment, error)
}

// StylistLookup resolves a stylist's calendar id for the cancellation
// flow's DeleteEvent call.
type StylistLookup interface {
	Get(ctx context.Context, id string) (state.Stylist, bool, error)
}

// CalendarCanceller is the narrow calendar capability the cancellation
// sub-flow needs beyond what the tools package already exercises.
type CalendarCanceller interface {
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// NonBookingHandler serves every intent the FSM doesn't drive. Most land
// in a model that may call the read-only tool whitelist; a handful of
// lifecycle intents (name updates, appointment
// confirm/decline, cancellation) are handled deterministically since they
// mutate data the model must never be trusted to decide on its own.
type NonBookingHandler struct {
	completer    formatter.Completer
	exec         tools.Executor
	appointments AppointmentStore
	stylists     StylistLookup
	calendar     CalendarCanceller
	notifier     *notify.Service
	model        string
	location     *time.Location
	logger       *logging.Logger
}

// Config bundles the non-booking handler's dependencies.
type Config struct {
	Completer    formatter.Completer
	Executor     tools.Executor
	Appointments AppointmentStore
	Stylists     StylistLookup
	Calendar     CalendarCanceller
	Notifier     *notify.Service
	Model        string
	Location     *time.Location
	Logger       *logging.Logger
}

// New builds a NonBookingHandler.
func New(cfg Config) *NonBookingHandler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &NonBookingHandler{
		completer:    cfg.Completer,
		exec:         cfg.Executor,
		appointments: cfg.Appointments,
		stylists:     cfg.Stylists,
		calendar:     cfg.Calendar,
		notifier:     cfg.Notifier,
		model:        cfg.Model,
		location:     cfg.Location,
		logger:       cfg.Logger,
	}
}

// Request carries everything the handler needs beyond the classified
// intent: the conversation itself (mutable — the cancellation sub-flow
// and the name-confirmation bookkeeping both update it in place) and the
// current FSM state for prompt context.
type Request struct {
	Intent       fsm.Intent
	State        fsm.State
	Conversation *state.Conversation
}

// Handle dispatches UPDATE_NAME, the appointment confirm/decline pair,
// and the five-intent cancellation sub-flow to their own deterministic
// logic, and falls through to the general tool-assisted conversational
// path for everything else (greetings, FAQ, escalation, unknown, and
// checking one's own appointments).
func (h *NonBookingHandler) Handle(ctx context.Context, req Request) (Result, error) {
	switch req.Intent.Type {
	case fsm.IntentUpdateName:
		return h.handleUpdateName(ctx, req)
	case fsm.IntentConfirmAppointment:
		return h.handleAppointmentReply(ctx, req, true)
	case fsm.IntentDeclineAppointment:
		return h.handleAppointmentReply(ctx, req, false)
	case fsm.IntentInitiateCancellation:
		return h.handleInitiateCancellation(ctx, req)
	case fsm.IntentSelectCancellation:
		return h.handleSelectCancellation(ctx, req)
	case fsm.IntentConfirmCancellation:
		return h.handleConfirmCancellation(ctx, req)
	case fsm.IntentAbortCancellation, fsm.IntentInsistCancellation:
		return h.handleAbortCancellation(ctx, req)
	default:
		return h.handleConversational(ctx, req)
	}
}

func (h *NonBookingHandler) handleUpdateName(ctx context.Context, req Request) (Result, error) {
	firstName, _ := req.Intent.Entities["first_name"].(string)
	lastName, _ := req.Intent.Entities["last_name"].(string)
	if firstName == "" {
		return noopResult("¿A qué nombre quieres actualizar tus datos?"), nil
	}

	res, err := h.exec.Call(ctx, tools.NameManageCustomer, tools.Args{
		"action": "update_name",
		"phone":  req.Conversation.CustomerPhone,
		"data":   map[string]any{"first_name": firstName, "last_name": lastName},
	})
	if err != nil {
		return Result{}, fmt.Errorf("handler: update name: %w", err)
	}
	if id, _ := res["customer_id"].(string); id != "" {
		req.Conversation.CustomerID = id
	}
	return Result{
		Reply:         fmt.Sprintf("Listo, he actualizado tu nombre a %s %s.", firstName, lastName),
		ExecutedTools: map[string]bool{string(tools.NameManageCustomer): true},
	}, nil
}

// handleAppointmentReply resolves the customer's pending 48h confirmation
// request regardless of how long ago it was sent (an Open Question this
// system resolves in favor of always honoring a late reply) and marks it
// confirmed or cancelled.
func (h *NonBookingHandler) handleAppointmentReply(ctx context.Context, req Request, confirm bool) (Result, error) {
	if req.Conversation.CustomerID == "" || h.appointments == nil {
		return noopResult("No he encontrado ninguna cita pendiente de confirmación."), nil
	}

	appt, found := h.findPendingConfirmation(ctx, req.Conversation.CustomerID)
	if !found {
		return noopResult("No he encontrado ninguna cita pendiente de confirmación."), nil
	}

	if confirm {
		if err := h.appointments.MarkConfirmed(ctx, appt.ID); err != nil {
			return Result{}, fmt.Errorf("handler: confirm appointment: %w", err)
		}
		if h.notifier != nil {
			_ = h.notifier.ConfirmationReceived(ctx, appt.ID, fmt.Sprintf("Cliente confirmó la cita del %s", appt.StartTime.In(h.location).Format("02/01/2006 15:04")))
		}
		return noopResult("¡Genial! Tu cita queda confirmada. Te esperamos."), nil
	}

	if err := h.cancelAppointment(ctx, appt, "el cliente rechazó la confirmación"); err != nil {
		return Result{}, err
	}
	return noopResult("Entendido, tu cita ha sido cancelada. Si quieres reservar otra, solo dímelo."), nil
}

func (h *NonBookingHandler) findPendingConfirmation(ctx context.Context, customerID string) (state.Appointment, bool) {
	upcoming, err := h.appointments.ListUpcomingByCustomer(ctx, customerID, time.Now().UTC())
	if err != nil {
		h.logger.Error("handler: list upcoming appointments failed", "error", err)
		return state.Appointment{}, false
	}
	for _, a := range upcoming {
		if a.Status == state.AppointmentPending && a.ConfirmationSentAt != nil {
			return a, true
		}
	}
	return state.Appointment{}, false
}

func (h *NonBookingHandler) handleInitiateCancellation(ctx context.Context, req Request) (Result, error) {
	if req.Conversation.CustomerID == "" || h.appointments == nil {
		return noopResult("No encuentro citas próximas a tu nombre."), nil
	}
	upcoming, err := h.appointments.ListUpcomingByCustomer(ctx, req.Conversation.CustomerID, time.Now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("handler: list upcoming appointments: %w", err)
	}
	if len(upcoming) == 0 {
		return noopResult("No encuentro citas próximas a tu nombre."), nil
	}
	if len(upcoming) == 1 {
		req.Conversation.PendingCancellationID = upcoming[0].ID
		req.Conversation.PendingCancellationCandidates = nil
		return noopResult(fmt.Sprintf("Tienes una cita el %s. ¿Confirmas que quieres cancelarla?",
			upcoming[0].StartTime.In(h.location).Format("02/01/2006 15:04"))), nil
	}

	ids := make([]string, 0, len(upcoming))
	var b strings.Builder
	b.WriteString("Tienes varias citas próximas, ¿cuál quieres cancelar?\n\n")
	for i, a := range upcoming {
		ids = append(ids, a.ID)
		fmt.Fprintf(&b, "%d. %s\n", i+1, a.StartTime.In(h.location).Format("02/01/2006 15:04"))
	}
	req.Conversation.PendingCancellationCandidates = ids
	req.Conversation.PendingCancellationID = ""
	return noopResult(b.String()), nil
}

func (h *NonBookingHandler) handleSelectCancellation(ctx context.Context, req Request) (Result, error) {
	candidates := req.Conversation.PendingCancellationCandidates
	if len(candidates) == 0 {
		return noopResult("¿Podrías indicarme de nuevo cuál cita quieres cancelar?"), nil
	}
	index := intEntity(req.Intent.Entities, "selection_index")
	if index < 1 || index > len(candidates) {
		return noopResult("No he entendido el número. ¿Cuál de las citas mostradas quieres cancelar?"), nil
	}
	req.Conversation.PendingCancellationID = candidates[index-1]
	req.Conversation.PendingCancellationCandidates = nil
	return noopResult("Entendido. ¿Confirmas que quieres cancelar esa cita?"), nil
}

func (h *NonBookingHandler) handleConfirmCancellation(ctx context.Context, req Request) (Result, error) {
	id := req.Conversation.PendingCancellationID
	if id == "" || h.appointments == nil {
		return noopResult("No tengo ninguna cancelación pendiente de confirmar."), nil
	}
	appt, found, err := h.appointments.Get(ctx, id)
	if err != nil || !found {
		return noopResult("No he podido localizar esa cita."), nil
	}
	if err := h.cancelAppointment(ctx, appt, "el cliente solicitó la cancelación"); err != nil {
		return Result{}, err
	}
	req.Conversation.PendingCancellationID = ""
	return noopResult("Tu cita ha sido cancelada. Si quieres reservar otra, solo dímelo."), nil
}

func (h *NonBookingHandler) handleAbortCancellation(ctx context.Context, req Request) (Result, error) {
	req.Conversation.PendingCancellationID = ""
	req.Conversation.PendingCancellationCandidates = nil
	return noopResult("De acuerdo, no cancelo nada. ¿Hay algo más en lo que pueda ayudarte?"), nil
}

func (h *NonBookingHandler) cancelAppointment(ctx context.Context, appt state.Appointment, reason string) error {
	if err := h.appointments.MarkCancelled(ctx, appt.ID); err != nil {
		return errs.Wrap(errs.KindTransient, "handler.cancel_appointment", err)
	}
	if h.calendar != nil && h.stylists != nil && appt.CalendarEventID != "" {
		if stylist, found, err := h.stylists.Get(ctx, appt.StylistID); err == nil && found {
			if err := h.calendar.DeleteEvent(ctx, stylist.CalendarID, appt.CalendarEventID); err != nil {
				h.logger.Error("handler: delete calendar event failed", "error", err, "appointment_id", appt.ID)
			}
		}
	}
	if h.notifier != nil {
		_ = h.notifier.Notify(ctx, state.NotificationAppointmentCancelled,
			"Cita cancelada", fmt.Sprintf("Cita %s cancelada: %s", appt.ID, reason), "appointment", appt.ID)
	}
	return nil
}

func intEntity(entities map[string]any, key string) int {
	switch v := entities[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n := 0
		for _, r := range v {
			if r < '0' || r > '9' {
				return 0
			}
			n = n*10 + int(r-'0')
		}
		return n
	}
	return 0
}

// toolChoice is the JSON shape the tool-selection pass asks the model for.
type toolChoice struct {
	ToolCalls []struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"tool_calls"`
}

// handleConversational is the general path: build the persona +
// state + first-contact + history prompt, let the model pick zero or
// more read-only tools, execute them, then ask for a final natural-
// language answer grounded in whatever the tools returned.
func (h *NonBookingHandler) handleConversational(ctx context.Context, req Request) (Result, error) {
	history := historyFromConversation(req.Conversation, historyWindow)

	choice, err := h.selectTools(ctx, req, history)
	if err != nil {
		h.logger.Error("handler: tool selection failed", "error", err)
		choice = toolChoice{}
	}

	executed := make(map[string]bool)
	toolResults := make(map[string]any)
	for _, call := range choice.ToolCalls {
		name := tools.Name(call.Name)
		if !isReadOnly(name) {
			continue
		}
		args := tools.Args(call.Args)
		if name == tools.NameEscalateToHuman {
			args["conversation_id"] = req.Conversation.ConversationID
			args["phone"] = req.Conversation.CustomerPhone
		}
		res, err := h.exec.Call(ctx, name, args)
		executed[call.Name] = err == nil
		if err != nil {
			toolResults[call.Name] = map[string]any{"error": err.Error()}
			continue
		}
		toolResults[call.Name] = res
	}

	reply, err := h.finalAnswer(ctx, req, history, toolResults)
	if err != nil {
		return Result{}, fmt.Errorf("handler: final answer: %w", err)
	}
	return Result{Reply: reply, ExecutedTools: executed}, nil
}

func isReadOnly(name tools.Name) bool {
	for _, n := range tools.ReadOnlyTools {
		if n == name {
			return true
		}
	}
	return false
}

func (h *NonBookingHandler) selectTools(ctx context.Context, req Request, history []HistoryMessage) (toolChoice, error) {
	prompt := buildToolSelectionPrompt(req, history)
	resp, err := h.completer.Complete(ctx, llm.Request{
		Model:       h.model,
		System:      []string{toolSelectionSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   400,
		Temperature: 0,
	})
	if err != nil {
		return toolChoice{}, err
	}
	return parseToolChoice(resp.Text)
}

func (h *NonBookingHandler) finalAnswer(ctx context.Context, req Request, history []HistoryMessage, toolResults map[string]any) (string, error) {
	var b strings.Builder
	b.WriteString(personaPrompt(req))
	if len(toolResults) > 0 {
		data, _ := json.Marshal(toolResults)
		fmt.Fprintf(&b, "\nResultados de herramientas consultadas (usa solo estos datos, no inventes nada): %s\n", string(data))
	}
	fmt.Fprintf(&b, "\nMensaje del cliente: %q\nResponde en español, de forma breve y cercana.", req.Intent.RawMessage)

	resp, err := h.completer.Complete(ctx, llm.Request{
		Model:       h.model,
		System:      []string{b.String()},
		Messages:    historyToMessages(history),
		MaxTokens:   500,
		Temperature: 0.5,
	})
	if err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "Disculpa, ¿puedes repetir tu mensaje?", nil
	}
	return resp.Text, nil
}

func historyToMessages(history []HistoryMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == string(state.RoleAssistant) {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

const toolSelectionSystemPrompt = "Eres el asistente de un salón de belleza. Dispones de herramientas de solo lectura: " +
	"query_info, search_services, manage_customer, escalate_to_human. Responde únicamente con JSON " +
	`{"tool_calls": [{"name": "...", "args": {...}}]}` + ". Si no necesitas ninguna herramienta, responde {\"tool_calls\": []}."

func buildToolSelectionPrompt(req Request, history []HistoryMessage) string {
	var b strings.Builder
	if req.State != fsm.StateIdle {
		fmt.Fprintf(&b, "Estado de la reserva en curso: %s\n", req.State)
	}
	if req.Conversation.CustomerID == "" {
		b.WriteString("Primer contacto: no conocemos el nombre del cliente.\n")
	}
	if len(history) > 0 {
		b.WriteString("Historial reciente:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&b, "Mensaje del cliente: %q\n", req.Intent.RawMessage)
	return b.String()
}

func personaPrompt(req Request) string {
	persona := "Eres Maite, la asistente virtual de un salón de belleza. Eres amable, cercana y profesional."
	if req.State != fsm.StateIdle {
		persona += fmt.Sprintf(" El cliente está en medio de una reserva (estado: %s); no interrumpas ese flujo salvo que pregunte otra cosa.", req.State)
	}
	return persona
}

func parseToolChoice(text string) (toolChoice, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end < start {
		return toolChoice{}, fmt.Errorf("handler: tool choice response has no JSON object")
	}
	var choice toolChoice
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &choice); err != nil {
		return toolChoice{}, fmt.Errorf("handler: parse tool choice: %w", err)
	}
	return choice, nil
}
