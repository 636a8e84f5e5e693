// Package orchestrator implements the end-to-end per-message driver: the
// single place that loads a conversation's checkpoint, classifies the new
// message, transitions or routes it, audits the outbound reply, and
// persists everything back atomically. Every other package in this repo
// is a pure dependency of this one; nothing here talks to SQS or a
// messaging gateway directly — that lives in internal/pubsub, which calls
// Turn once per inbound event.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pepeccz/atrevete-orchestrator/internal/errs"
	"github.com/pepeccz/atrevete-orchestrator/internal/formatter"
	"github.com/pepeccz/atrevete-orchestrator/internal/fsm"
	"github.com/pepeccz/atrevete-orchestrator/internal/handler"
	"github.com/pepeccz/atrevete-orchestrator/internal/intent"
	"github.com/pepeccz/atrevete-orchestrator/internal/observability/metrics"
	"github.com/pepeccz/atrevete-orchestrator/internal/router"
	"github.com/pepeccz/atrevete-orchestrator/internal/state"
	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

// autoEscalateDefault is the consecutive-failure threshold from config's
// AUTO_ESCALATE_AFTER_ERRORS, used when Config.AutoEscalateAfter is unset.
const autoEscalateDefault = 3

// Store is the subset of statestore.Store one turn needs: lock/unlock the
// conversation for the duration of the turn, and load/save its checkpoint.
type Store interface {
	Lock(ctx context.Context, conversationID, token string) (bool, error)
	Unlock(ctx context.Context, conversationID, token string) error
	Load(ctx context.Context, conversationID string) (*state.Conversation, bool, error)
	Save(ctx context.Context, conv *state.Conversation) error
}

// IntentClassifier is the narrow capability Turn needs from intent.Classifier.
type IntentClassifier interface {
	Classify(ctx context.Context, req intent.Request) (fsm.Intent, error)
}

// BookingHandler is the narrow capability Turn needs from handler.BookingHandler.
type BookingHandler interface {
	Handle(ctx context.Context, f *fsm.FSM) (handler.Result, error)
}

// NonBookingHandler is the narrow capability Turn needs from handler.NonBookingHandler.
type NonBookingHandler interface {
	Handle(ctx context.Context, req handler.Request) (handler.Result, error)
}

// Escalator fires the fire-and-forget admin side effect when a conversation
// is handed to a human, either by the auto-escalation gate (step 1) or the
// output auditor (step 8).
type Escalator interface {
	Escalate(ctx context.Context, conversationID, reason string) error
}

// Config bundles the Orchestrator's dependencies.
type Config struct {
	Store             Store
	Classifier        IntentClassifier
	BookingHandler    BookingHandler
	NonBookingHandler NonBookingHandler
	Escalator         Escalator
	Metrics           *metrics.BookingMetrics
	Names             fsm.CustomerNameLoader
	Slots             fsm.SlotValidator
	Logger            *logging.Logger

	MessageWindowSize int // bounded conversation window size
	AutoEscalateAfter int // consecutive errors before handing off to a human
	HistoryWindow     int // last-k turns fed to the classifier
}

// Orchestrator is the stateless driver a pub/sub worker calls once per
// inbound message. All mutable state lives in the conversation checkpoint
// Turn loads and saves; the Orchestrator value itself holds only wiring.
type Orchestrator struct {
	store      Store
	classifier IntentClassifier
	booking    BookingHandler
	nonBooking NonBookingHandler
	escalator  Escalator
	metrics    *metrics.BookingMetrics
	names      fsm.CustomerNameLoader
	slots      fsm.SlotValidator
	logger     *logging.Logger
	tracer     trace.Tracer

	windowSize        int
	autoEscalateAfter int
	historyWindow     int
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MessageWindowSize <= 0 {
		cfg.MessageWindowSize = 10
	}
	if cfg.AutoEscalateAfter <= 0 {
		cfg.AutoEscalateAfter = autoEscalateDefault
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	return &Orchestrator{
		store:             cfg.Store,
		classifier:        cfg.Classifier,
		booking:           cfg.BookingHandler,
		nonBooking:        cfg.NonBookingHandler,
		escalator:         cfg.Escalator,
		metrics:           cfg.Metrics,
		names:             cfg.Names,
		slots:             cfg.Slots,
		logger:            cfg.Logger,
		tracer:            otel.Tracer("atrevete.internal.orchestrator"),
		windowSize:        cfg.MessageWindowSize,
		autoEscalateAfter: cfg.AutoEscalateAfter,
		historyWindow:     cfg.HistoryWindow,
	}
}

// apologyReply is the scripted apology step 1 emits before escalating.
const apologyReply = "Disculpa las molestias. Te he puesto en contacto con una persona de nuestro equipo que te atenderá enseguida."

// degradedReply is emitted when the LLM circuit breaker is open and intent
// classification fails fast.
const degradedReply = "Estamos teniendo problemas técnicos en este momento. Por favor, inténtalo de nuevo en unos minutos o escribe 'hablar con alguien' para que te atienda una persona."

// slotTakenReply covers the booking race: another customer committed the
// same slot first.
const slotTakenReply = "Vaya, justo se acaba de ocupar esa hora. ¿Te busco otra? Dime qué día te vendría bien."

// validationReply redirects the user after a rejected input without
// treating the turn as a system failure.
const validationReply = "No he podido procesar esa opción. ¿Puedes indicármelo de otra forma?"

// Turn drives one inbound message end to end and returns the reply text to
// send back. conversationID identifies the checkpoint; customerPhone seeds
// a brand-new conversation. It acquires the per-conversation lock for the
// full duration of the turn: a caller that fails to acquire it should
// treat that as transient and let its queue redeliver the message later.
func (o *Orchestrator) Turn(ctx context.Context, conversationID, customerPhone, message string) (reply string, err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn")
	defer span.End()
	start := time.Now()

	token := uuid.NewString()
	locked, err := o.store.Lock(ctx, conversationID, token)
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, "orchestrator.turn", err)
	}
	if !locked {
		return "", errs.Wrap(errs.KindTransient, "orchestrator.turn",
			fmt.Errorf("conversation %s is already being processed", conversationID))
	}
	defer func() {
		if unlockErr := o.store.Unlock(ctx, conversationID, token); unlockErr != nil {
			o.logger.Error("orchestrator: failed to release lock", "error", unlockErr, "conversation_id", conversationID)
		}
	}()

	conv, err := o.loadOrCreate(ctx, conversationID, customerPhone)
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, "orchestrator.turn", err)
	}

	conv.AppendMessage(state.Message{
		Role: state.RoleUser, Content: message, Timestamp: time.Now().UTC(),
	}, o.windowSize)

	// Step 1: auto-escalation gate.
	if conv.ErrorCount >= o.autoEscalateAfter {
		conv.ErrorCount = 0
		conv.Escalated = true
		conv.AppendMessage(state.Message{
			Role: state.RoleAssistant, Content: apologyReply, Timestamp: time.Now().UTC(),
		}, o.windowSize)
		o.fireEscalation(ctx, conversationID, "consecutive turn failures exceeded threshold")
		if saveErr := o.store.Save(ctx, conv); saveErr != nil {
			o.logger.Error("orchestrator: failed to persist escalated conversation", "error", saveErr)
		}
		o.observeTurn(string(fsm.StateIdle), "escalated", start)
		return apologyReply, nil
	}

	// Step 2: FSM load (includes slot-freshness check, inside FromSnapshot).
	f := fsm.FromSnapshot(conversationID, conv.FSMState, o.names, o.slots)

	// Step 3: inject identity.
	f.InjectCustomerID(conv.CustomerID)

	// Step 4: classify intent. A breaker-open or any other LLM failure
	// already collapses to UNKNOWN inside intent.Classifier; Classify only
	// returns an error for a caller bug (nil llm) or ctx cancellation.
	classified, classifyErr := o.classifier.Classify(ctx, intent.Request{
		Message:       message,
		State:         f.State(),
		CollectedData: f.CollectedData(),
		History:       historyFor(conv, o.historyWindow),
	})
	turnFailed := false
	if classifyErr != nil {
		turnFailed = true
		reply = degradedReply
		conv.AppendMessage(state.Message{Role: state.RoleAssistant, Content: reply, Timestamp: time.Now().UTC()}, o.windowSize)
		conv.RecordFailure(o.autoEscalateAfter)
		if saveErr := o.store.Save(ctx, conv); saveErr != nil {
			o.logger.Error("orchestrator: failed to persist conversation after classify failure", "error", saveErr)
		}
		o.observeTurn(string(f.State()), "classify_error", start)
		return reply, nil
	}

	// Step 5: name-confirmation bypass. See DESIGN.md's Open Question entry:
	// the sub-phase lives inside the FSM itself, so the bypass forces the
	// booking path rather than a separate non-booking "name confirmation"
	// handler that doesn't exist in this codebase.
	namePending, _ := f.CollectedData()["name_confirmation_pending"].(bool)
	routeBooking := namePending || router.IsBooking(classified.Type)

	// Step 6: FSM transition for booking intents only.
	if routeBooking {
		if _, transErr := f.Transition(ctx, classified); transErr != nil {
			turnFailed = true
			o.logger.Error("orchestrator: fsm transition failed", "error", transErr, "conversation_id", conversationID)
		}
	}

	// Step 7: route.
	var result handler.Result
	var routeErr error
	if routeBooking {
		result, routeErr = o.booking.Handle(ctx, f)
	} else {
		result, routeErr = o.nonBooking.Handle(ctx, handler.Request{
			Intent:       classified,
			State:        f.State(),
			Conversation: conv,
		})
	}
	if routeErr != nil {
		switch errs.OfKind(routeErr) {
		case errs.KindConflict:
			// A concurrent booking took the slot between selection and
			// commit. Recoverable: clear it, back to slot selection.
			f.ReturnToSlotSelection()
			o.logger.Warn("orchestrator: slot taken by concurrent booking", "conversation_id", conversationID)
			result = handler.Result{Reply: slotTakenReply, ExecutedTools: map[string]bool{}}
		case errs.KindValidation:
			o.logger.Warn("orchestrator: handler rejected input", "error", routeErr, "conversation_id", conversationID)
			result = handler.Result{Reply: validationReply, ExecutedTools: map[string]bool{}}
		default:
			turnFailed = true
			o.logger.Error("orchestrator: handler failed", "error", routeErr, "conversation_id", conversationID)
			result = handler.Result{Reply: degradedReply, ExecutedTools: map[string]bool{}}
		}
	}

	if _, executed := result.ExecutedTools["book"]; executed {
		conv.AppointmentCreated = true
	}

	// Step 8: state-action audit (defence in depth).
	audit := formatter.Audit(result.Reply, f.State(), conv.AppointmentCreated, result.ExecutedTools)
	finalReply := result.Reply
	if audit.Severity() == "critical" {
		turnFailed = true
		finalReply = audit.Sanitized
		o.fireEscalation(ctx, conversationID, "output auditor caught a critical violation")
		conv.Escalated = true
	}
	conv.NameConfirmationPending, _ = f.CollectedData()["name_confirmation_pending"].(bool)

	// Step 9: counter update.
	if turnFailed {
		conv.RecordFailure(o.autoEscalateAfter)
	} else {
		conv.RecordSuccess()
	}

	// Step 10: persist.
	conv.FSMState = f.ToSnapshot()
	conv.AppendMessage(state.Message{Role: state.RoleAssistant, Content: finalReply, Timestamp: time.Now().UTC()}, o.windowSize)
	if saveErr := o.store.Save(ctx, conv); saveErr != nil {
		return "", errs.Wrap(errs.KindTransient, "orchestrator.turn", saveErr)
	}

	outcome := "ok"
	if turnFailed {
		outcome = "error"
	}
	o.observeTurn(string(f.State()), outcome, start)
	return finalReply, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, conversationID, customerPhone string) (*state.Conversation, error) {
	conv, found, err := o.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if found {
		return conv, nil
	}
	return &state.Conversation{
		ConversationID: conversationID,
		CustomerPhone:  customerPhone,
		FSMState:       state.Snapshot{State: string(fsm.StateIdle), CollectedData: map[string]any{}},
	}, nil
}

func (o *Orchestrator) fireEscalation(ctx context.Context, conversationID, reason string) {
	if o.escalator == nil {
		return
	}
	if err := o.escalator.Escalate(ctx, conversationID, reason); err != nil {
		o.logger.Error("orchestrator: escalation side effect failed", "error", err, "conversation_id", conversationID)
	}
}

func (o *Orchestrator) observeTurn(fsmState, outcome string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveTurn(fsmState, outcome, time.Since(start).Seconds())
}

func historyFor(conv *state.Conversation, k int) []intent.HistoryMessage {
	msgs := conv.Messages
	if len(msgs) > k {
		msgs = msgs[len(msgs)-k:]
	}
	out := make([]intent.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, intent.HistoryMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
