package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypesAreStable(t *testing.T) {
	// These strings are a wire format shared with the outbox table and any
	// downstream consumer; renaming one is a breaking change.
	assert.Equal(t, "messaging.message.received.v1", MessageReceivedV1{}.EventType())
	assert.Equal(t, "messaging.message.sent.v1", MessageSentV1{}.EventType())
	assert.Equal(t, "booking.appointment.booked.v1", AppointmentBookedV1{}.EventType())
	assert.Equal(t, "booking.appointment.auto_cancelled.v1", AppointmentAutoCancelledV1{}.EventType())
}

func TestMessageSentV1OmitsEmptyOptionalFields(t *testing.T) {
	data, err := json.Marshal(MessageSentV1{
		ConversationID: "conv-1",
		CustomerPhone:  "+34600111222",
		Message:        "hola",
		Provider:       "chatwoot",
		SentAt:         time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "template_name")
	assert.NotContains(t, string(data), "provider_message_id")
}
