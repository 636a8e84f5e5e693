package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pepeccz/atrevete-orchestrator/internal/events"
	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultReceiveWait   = 10 // seconds, within SQS's 20s long-poll cap
	defaultReceiveBatch  = 5
	deleteTimeout        = 5 * time.Second
	maxBackoff           = 5 * time.Second
	inboundProvider      = "chatwoot"
)

// InboundMessage is the wire shape of an incoming_messages entry.
type InboundMessage struct {
	ConversationID string `json:"conversation_id"`
	CustomerPhone  string `json:"customer_phone"`
	MessageText    string `json:"message_text"`
}

// OutboundMessage is the wire shape of an outgoing_messages entry.
type OutboundMessage struct {
	ConversationID string `json:"conversation_id"`
	CustomerPhone  string `json:"customer_phone"`
	Message        string `json:"message"`
}

// Turner runs one conversation turn end to end and returns the reply text,
// implemented by *orchestrator.Orchestrator.
type Turner interface {
	Turn(ctx context.Context, conversationID, customerPhone, message string) (string, error)
}

// Deduper guards against a message being processed twice when the
// messaging vendor or the queue itself redelivers it, implemented by
// *events.InboundDedupeStore.
type Deduper interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// InboundWorker polls incoming_messages, runs the orchestrator for each
// message, and publishes the reply to outgoing_messages.
type InboundWorker struct {
	in      Queue
	out     Queue
	turn    Turner
	dedupe  Deduper // optional
	logger  *logging.Logger
	workers int

	events *events.Recorder   // optional: records received/sent audit rows
	outbox *events.OutboxStore // optional: durable retry for the reply publish

	wg sync.WaitGroup
}

// InboundOption configures an InboundWorker.
type InboundOption func(*InboundWorker)

// WithInboundWorkerCount overrides the number of polling goroutines.
func WithInboundWorkerCount(n int) InboundOption {
	return func(w *InboundWorker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithDeduper enables inbound event deduplication.
func WithDeduper(d Deduper) InboundOption {
	return func(w *InboundWorker) { w.dedupe = d }
}

// WithEvents enables audit recording of received messages.
func WithEvents(r *events.Recorder) InboundOption {
	return func(w *InboundWorker) { w.events = r }
}

// WithOutbox routes the reply publish through the outbox instead of
// publishing directly: the reply is durably recorded before the publish
// attempt, so a process crash between "reply computed" and "message left
// the process" leaves a row the outbox's own Deliverer can retry, rather
// than silently dropping the reply.
func WithOutbox(store *events.OutboxStore) InboundOption {
	return func(w *InboundWorker) { w.outbox = store }
}

// NewInboundWorker builds a worker that forwards incoming turns from in to
// the orchestrator and publishes replies to out.
func NewInboundWorker(in, out Queue, turn Turner, logger *logging.Logger, opts ...InboundOption) *InboundWorker {
	if in == nil || out == nil {
		panic("pubsub: inbound and outbound queues cannot be nil")
	}
	if turn == nil {
		panic("pubsub: turner cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &InboundWorker{in: in, out: out, turn: turn, logger: logger, workers: defaultWorkerCount}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the worker's polling goroutines and blocks until ctx is
// cancelled and every in-flight message finishes.
func (w *InboundWorker) Run(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.poll(ctx, i+1)
	}
	w.wg.Wait()
}

func (w *InboundWorker) poll(ctx context.Context, id int) {
	defer w.wg.Done()
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := w.in.Receive(ctx, defaultReceiveBatch, defaultReceiveWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("pubsub: failed to receive inbound messages", "error", err, "worker_id", id)
			time.Sleep(backoff)
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, m := range msgs {
			w.handle(ctx, m)
		}
	}
}

func (w *InboundWorker) handle(ctx context.Context, msg Message) {
	defer w.ack(msg.ReceiptHandle)

	var in InboundMessage
	if err := json.Unmarshal([]byte(msg.Body), &in); err != nil {
		w.logger.Error("pubsub: failed to decode inbound message", "error", err, "message_id", msg.ID)
		return
	}

	if w.events != nil {
		if err := w.events.Append(ctx, in.ConversationID, events.MessageReceivedV1{
			ConversationID: in.ConversationID,
			CustomerPhone:  in.CustomerPhone,
			MessageText:    in.MessageText,
			Provider:       inboundProvider,
			ReceivedAt:     time.Now(),
		}); err != nil {
			w.logger.Error("pubsub: failed to append message-received event", "error", err, "conversation_id", in.ConversationID)
		}
	}

	if w.dedupe != nil {
		already, err := w.dedupe.AlreadyProcessed(ctx, inboundProvider, msg.ID)
		if err != nil {
			w.logger.Error("pubsub: dedupe check failed, processing anyway", "error", err, "message_id", msg.ID)
		} else if already {
			w.logger.Debug("pubsub: skipping already-processed message", "message_id", msg.ID)
			return
		}
	}

	reply, err := w.turn.Turn(ctx, in.ConversationID, in.CustomerPhone, in.MessageText)
	if err != nil {
		w.logger.Error("pubsub: orchestrator turn failed", "error", err, "conversation_id", in.ConversationID)
		return
	}

	if w.dedupe != nil {
		if _, err := w.dedupe.MarkProcessed(ctx, inboundProvider, msg.ID); err != nil {
			w.logger.Error("pubsub: failed to mark message processed", "error", err, "message_id", msg.ID)
		}
	}

	if reply == "" {
		return
	}

	out := OutboundMessage{ConversationID: in.ConversationID, CustomerPhone: in.CustomerPhone, Message: reply}
	body, err := json.Marshal(out)
	if err != nil {
		w.logger.Error("pubsub: failed to encode outbound message", "error", err, "conversation_id", in.ConversationID)
		return
	}

	if w.outbox == nil {
		if err := w.out.Send(ctx, string(body)); err != nil {
			w.logger.Error("pubsub: failed to publish outbound message", "error", err, "conversation_id", in.ConversationID)
		}
		return
	}

	w.publishThroughOutbox(ctx, in, reply, body)
}

// publishThroughOutbox records the reply in the outbox before attempting
// delivery, so a crash after this point still leaves a row for the
// outbox's Deliverer to pick up and retry.
func (w *InboundWorker) publishThroughOutbox(ctx context.Context, in InboundMessage, reply string, body []byte) {
	evt := events.MessageSentV1{
		ConversationID: in.ConversationID,
		CustomerPhone:  in.CustomerPhone,
		Message:        reply,
		Provider:       inboundProvider,
		SentAt:         time.Now(),
	}
	id, err := w.outbox.Insert(ctx, in.ConversationID, evt.EventType(), evt)
	if err != nil {
		w.logger.Error("pubsub: failed to record outbox entry, publishing directly", "error", err, "conversation_id", in.ConversationID)
		if err := w.out.Send(ctx, string(body)); err != nil {
			w.logger.Error("pubsub: failed to publish outbound message", "error", err, "conversation_id", in.ConversationID)
		}
		return
	}

	if err := w.out.Send(ctx, string(body)); err != nil {
		w.logger.Error("pubsub: outbox publish attempt failed, will retry from outbox", "error", err, "conversation_id", in.ConversationID)
		return
	}
	if _, err := w.outbox.MarkDelivered(ctx, id); err != nil {
		w.logger.Error("pubsub: failed to mark outbox entry delivered", "error", err, "conversation_id", in.ConversationID)
	}
}

func (w *InboundWorker) ack(receiptHandle string) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := w.in.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("pubsub: failed to delete inbound message", "error", err)
	}
}
