package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

// Sender is the narrow capability the outbound worker needs from
// messagingclient.Client.
type Sender interface {
	SendMessage(ctx context.Context, customerPhone, customerName, conversationID, message string) (string, error)
}

// OutboundWorker polls outgoing_messages and forwards each reply to the
// messaging gateway. Delivery is at-least-once and fire-and-forget:
// sendMessage is idempotent at the vendor, so a redelivered message is
// harmless.
type OutboundWorker struct {
	queue   Queue
	sender  Sender
	logger  *logging.Logger
	workers int

	wg sync.WaitGroup
}

// OutboundOption configures an OutboundWorker.
type OutboundOption func(*OutboundWorker)

// WithOutboundWorkerCount overrides the number of polling goroutines.
func WithOutboundWorkerCount(n int) OutboundOption {
	return func(w *OutboundWorker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// NewOutboundWorker builds a worker that delivers queued replies through
// sender.
func NewOutboundWorker(queue Queue, sender Sender, logger *logging.Logger, opts ...OutboundOption) *OutboundWorker {
	if queue == nil {
		panic("pubsub: outbound queue cannot be nil")
	}
	if sender == nil {
		panic("pubsub: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &OutboundWorker{queue: queue, sender: sender, logger: logger, workers: defaultWorkerCount}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the worker's polling goroutines and blocks until ctx is
// cancelled and every in-flight delivery finishes.
func (w *OutboundWorker) Run(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.poll(ctx, i+1)
	}
	w.wg.Wait()
}

func (w *OutboundWorker) poll(ctx context.Context, id int) {
	defer w.wg.Done()
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := w.queue.Receive(ctx, defaultReceiveBatch, defaultReceiveWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("pubsub: failed to receive outbound messages", "error", err, "worker_id", id)
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

func (w *OutboundWorker) handle(ctx context.Context, msg Message) {
	defer func() {
		deleteCtx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		if err := w.queue.Delete(deleteCtx, msg.ReceiptHandle); err != nil {
			w.logger.Error("pubsub: failed to delete outbound message", "error", err)
		}
	}()

	var out OutboundMessage
	if err := json.Unmarshal([]byte(msg.Body), &out); err != nil {
		w.logger.Error("pubsub: failed to decode outbound message", "error", err, "message_id", msg.ID)
		return
	}

	if _, err := w.sender.SendMessage(ctx, out.CustomerPhone, "", out.ConversationID, out.Message); err != nil {
		// Transient delivery failures are retried by the
		// messaging client's own backoff; exhaustion surfaces here and is
		// logged, the message still acked since SQS redelivery would just
		// hit the same exhausted retries again.
		w.logger.Error("pubsub: failed to deliver outbound message", "error", err, "conversation_id", out.ConversationID)
	}
}
