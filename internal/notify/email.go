package notify

import (
	"context"

	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

// EmailSender delivers one staff-facing email. The Service is the only
// caller; swapping SES for a stub happens at process wiring time.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is the plain-text staff email the notification service
// produces. Escalations and auto-cancellations are the only senders, so
// there is no HTML path.
type EmailMessage struct {
	To      string
	Subject string
	Body    string
}

// StubEmailSender logs instead of sending, for local runs and tests where
// no SES sender address is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("email disabled, dropping staff notification", "to", msg.To, "subject", msg.Subject)
	return nil
}

var _ EmailSender = (*StubEmailSender)(nil)
