package events

import "time"

// MessageReceivedV1 is the canonical form of an incoming_messages delivery,
// recorded for audit before the FSM ever sees it.
type MessageReceivedV1 struct {
	ConversationID string    `json:"conversation_id"`
	CustomerPhone  string    `json:"customer_phone"`
	MessageText    string    `json:"message_text"`
	Provider       string    `json:"provider"`
	ReceivedAt     time.Time `json:"received_at"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
}

func (MessageReceivedV1) EventType() string {
	return "messaging.message.received.v1"
}

// MessageSentV1 is the canonical form of an outgoing_messages publish,
// appended to the outbox so a reply survives a crash between FSM
// transition and delivery.
type MessageSentV1 struct {
	ConversationID    string    `json:"conversation_id"`
	CustomerPhone     string    `json:"customer_phone"`
	Message           string    `json:"message"`
	Provider          string    `json:"provider"`
	SentAt            time.Time `json:"sent_at"`
	TemplateName      string    `json:"template_name,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
}

func (MessageSentV1) EventType() string {
	return "messaging.message.sent.v1"
}

// AppointmentBookedV1 marks a successful book tool execution, fed to the
// admin notification feed.
type AppointmentBookedV1 struct {
	AppointmentID   string    `json:"appointment_id"`
	CustomerID      string    `json:"customer_id"`
	StylistID       string    `json:"stylist_id,omitempty"`
	ServiceIDs      []string  `json:"service_ids"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	BookedAt        time.Time `json:"booked_at"`
}

func (AppointmentBookedV1) EventType() string {
	return "booking.appointment.booked.v1"
}

// AppointmentAutoCancelledV1 is raised by the confirmation scheduler's
// auto-cancellation sweep when a customer never confirmed.
type AppointmentAutoCancelledV1 struct {
	AppointmentID  string    `json:"appointment_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CancelledAt    time.Time `json:"cancelled_at"`
	Reason         string    `json:"reason,omitempty"`
}

func (AppointmentAutoCancelledV1) EventType() string {
	return "booking.appointment.auto_cancelled.v1"
}
