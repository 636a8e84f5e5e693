package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

// sesAPI is the one sesv2.Client call the sender makes, extracted so tests
// can substitute a fake without an AWS session.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers staff emails through AWS SESv2.
type SESSender struct {
	api    sesAPI
	from   string // rendered "Name <addr>" header, built once
	logger *logging.Logger
}

// NewSESSender builds an SES-backed sender. Returns nil when client or
// fromEmail is missing so callers can fall back to the stub with a plain
// nil check.
func NewSESSender(client *sesv2.Client, fromEmail, fromName string, logger *logging.Logger) *SESSender {
	if client == nil || fromEmail == "" {
		return nil
	}
	if fromName == "" {
		fromName = "Salón Atrévete"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{
		api:    client,
		from:   fmt.Sprintf("%s <%s>", fromName, fromEmail),
		logger: logger,
	}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	utf8 := func(v string) *types.Content {
		return &types.Content{Data: aws.String(v), Charset: aws.String("UTF-8")}
	}
	out, err := s.api.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: utf8(msg.Subject),
				Body:    &types.Body{Text: utf8(msg.Body)},
			},
		},
	})
	if err != nil {
		s.logger.Error("ses send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: ses send: %w", err)
	}
	s.logger.Info("staff email sent", "to", msg.To, "subject", msg.Subject, "message_id", aws.ToString(out.MessageId))
	return nil
}

var _ EmailSender = (*SESSender)(nil)
