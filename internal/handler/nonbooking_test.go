package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepeccz/atrevete-orchestrator/internal/fsm"
	"github.com/pepeccz/atrevete-orchestrator/internal/llm"
	"github.com/pepeccz/atrevete-orchestrator/internal/state"
	"github.com/pepeccz/atrevete-orchestrator/internal/tools"
)

type fakeAppointments struct {
	byID     map[string]state.Appointment
	upcoming []state.Appointment
	listErr  error
}

func (f *fakeAppointments) Get(ctx context.Context, id string) (state.Appointment, bool, error) {
	a, ok := f.byID[id]
	return a, ok, nil
}
func (f *fakeAppointments) MarkConfirmed(ctx context.Context, id string) error {
	a := f.byID[id]
	a.Status = state.AppointmentConfirmed
	f.byID[id] = a
	return nil
}
func (f *fakeAppointments) MarkCancelled(ctx context.Context, id string) error {
	a := f.byID[id]
	a.Status = state.AppointmentCancelled
	f.byID[id] = a
	return nil
}
func (f *fakeAppointments) ListUpcomingByCustomer(ctx context.Context, customerID string, now time.Time) ([]state.Appointment, error) {
	return f.upcoming, f.listErr
}

type stubCompleter struct {
	responses []llm.Response
	errs      []error
	calls     int
}

func (c *stubCompleter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	i := c.calls
	c.calls++
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], err
	}
	return llm.Response{}, err
}

func TestNonBookingHandler_UpdateNameRequiresFirstName(t *testing.T) {
	h := New(Config{Executor: &fakeExecutor{}})
	conv := &state.Conversation{CustomerPhone: "+34600000001"}
	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentUpdateName, Entities: map[string]any{}},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "¿A qué nombre")
}

func TestNonBookingHandler_UpdateNameCallsManageCustomerAndUpdatesConversation(t *testing.T) {
	exec := &fakeExecutor{results: map[string]tools.Result{
		"manage_customer": {"customer_id": "cust-9"},
	}}
	h := New(Config{Executor: exec})
	conv := &state.Conversation{CustomerPhone: "+34600000001"}

	res, err := h.Handle(context.Background(), Request{
		Intent: fsm.Intent{Type: fsm.IntentUpdateName, Entities: map[string]any{
			"first_name": "Ana", "last_name": "García",
		}},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "Ana García")
	assert.True(t, res.ExecutedTools["manage_customer"])
	assert.Equal(t, "cust-9", conv.CustomerID)
	assert.Equal(t, []string{"manage_customer"}, exec.calls)
}

func TestNonBookingHandler_ConfirmAppointmentWithNoPendingFindsNothing(t *testing.T) {
	h := New(Config{Appointments: &fakeAppointments{byID: map[string]state.Appointment{}}})
	conv := &state.Conversation{CustomerID: "cust-1"}
	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentConfirmAppointment},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "No he encontrado")
}

func TestNonBookingHandler_ConfirmAppointmentMarksConfirmed(t *testing.T) {
	sentAt := time.Now().Add(-time.Hour)
	appts := &fakeAppointments{
		byID: map[string]state.Appointment{"appt-1": {ID: "appt-1", Status: state.AppointmentPending, ConfirmationSentAt: &sentAt}},
		upcoming: []state.Appointment{
			{ID: "appt-1", Status: state.AppointmentPending, ConfirmationSentAt: &sentAt, StartTime: time.Now().Add(48 * time.Hour)},
		},
	}
	h := New(Config{Appointments: appts})
	conv := &state.Conversation{CustomerID: "cust-1"}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentConfirmAppointment},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "confirmada")
	assert.Equal(t, state.AppointmentConfirmed, appts.byID["appt-1"].Status)
}

func TestNonBookingHandler_DeclineAppointmentCancelsIt(t *testing.T) {
	sentAt := time.Now().Add(-time.Hour)
	appts := &fakeAppointments{
		byID: map[string]state.Appointment{"appt-1": {ID: "appt-1", Status: state.AppointmentPending, ConfirmationSentAt: &sentAt}},
		upcoming: []state.Appointment{
			{ID: "appt-1", Status: state.AppointmentPending, ConfirmationSentAt: &sentAt, StartTime: time.Now().Add(48 * time.Hour)},
		},
	}
	h := New(Config{Appointments: appts})
	conv := &state.Conversation{CustomerID: "cust-1"}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentDeclineAppointment},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "cancelada")
	assert.Equal(t, state.AppointmentCancelled, appts.byID["appt-1"].Status)
}

func TestNonBookingHandler_InitiateCancellationNoUpcoming(t *testing.T) {
	h := New(Config{Appointments: &fakeAppointments{}})
	conv := &state.Conversation{CustomerID: "cust-1"}
	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentInitiateCancellation},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "No encuentro")
}

func TestNonBookingHandler_InitiateCancellationSingleUpcomingSetsPendingID(t *testing.T) {
	appts := &fakeAppointments{upcoming: []state.Appointment{
		{ID: "appt-1", StartTime: time.Date(2999, 1, 1, 10, 0, 0, 0, time.UTC)},
	}}
	h := New(Config{Appointments: appts})
	conv := &state.Conversation{CustomerID: "cust-1"}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentInitiateCancellation},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "¿Confirmas que quieres cancelarla?")
	assert.Equal(t, "appt-1", conv.PendingCancellationID)
}

func TestNonBookingHandler_InitiateCancellationMultipleUpcomingListsCandidates(t *testing.T) {
	appts := &fakeAppointments{upcoming: []state.Appointment{
		{ID: "appt-1", StartTime: time.Date(2999, 1, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "appt-2", StartTime: time.Date(2999, 1, 2, 11, 0, 0, 0, time.UTC)},
	}}
	h := New(Config{Appointments: appts})
	conv := &state.Conversation{CustomerID: "cust-1"}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentInitiateCancellation},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "varias citas")
	assert.Equal(t, []string{"appt-1", "appt-2"}, conv.PendingCancellationCandidates)
	assert.Empty(t, conv.PendingCancellationID)
}

func TestNonBookingHandler_SelectCancellationOutOfRange(t *testing.T) {
	h := New(Config{})
	conv := &state.Conversation{PendingCancellationCandidates: []string{"appt-1", "appt-2"}}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentSelectCancellation, Entities: map[string]any{"selection_index": 5}},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "No he entendido")
}

func TestNonBookingHandler_SelectCancellationValidIndexSetsPendingID(t *testing.T) {
	h := New(Config{})
	conv := &state.Conversation{PendingCancellationCandidates: []string{"appt-1", "appt-2"}}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentSelectCancellation, Entities: map[string]any{"selection_index": 2}},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "¿Confirmas")
	assert.Equal(t, "appt-2", conv.PendingCancellationID)
	assert.Empty(t, conv.PendingCancellationCandidates)
}

func TestNonBookingHandler_ConfirmCancellationWithNoPendingID(t *testing.T) {
	h := New(Config{Appointments: &fakeAppointments{}})
	conv := &state.Conversation{}
	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentConfirmCancellation},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "No tengo ninguna cancelación")
}

func TestNonBookingHandler_ConfirmCancellationCancelsAppointment(t *testing.T) {
	appts := &fakeAppointments{byID: map[string]state.Appointment{
		"appt-1": {ID: "appt-1", Status: state.AppointmentConfirmed},
	}}
	h := New(Config{Appointments: appts})
	conv := &state.Conversation{PendingCancellationID: "appt-1"}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentConfirmCancellation},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "cancelada")
	assert.Equal(t, state.AppointmentCancelled, appts.byID["appt-1"].Status)
	assert.Empty(t, conv.PendingCancellationID)
}

func TestNonBookingHandler_AbortCancellationClearsPendingState(t *testing.T) {
	h := New(Config{})
	conv := &state.Conversation{PendingCancellationID: "appt-1", PendingCancellationCandidates: []string{"appt-1"}}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentInsistCancellation},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "no cancelo nada")
	assert.Empty(t, conv.PendingCancellationID)
	assert.Empty(t, conv.PendingCancellationCandidates)
}

func TestNonBookingHandler_ConversationalPathSelectsToolAndAnswers(t *testing.T) {
	completer := &stubCompleter{responses: []llm.Response{
		{Text: `{"tool_calls": [{"name": "query_info", "args": {"type": "hours"}}]}`},
		{Text: "Abrimos de 9 a 20."},
	}}
	exec := &fakeExecutor{results: map[string]tools.Result{
		"query_info": {"hours": []map[string]any{}},
	}}
	h := New(Config{Completer: completer, Executor: exec, Model: "test-model"})
	conv := &state.Conversation{ConversationID: "C1", CustomerPhone: "+34600000001"}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentGreeting, RawMessage: "¿a qué hora abrís?"},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Equal(t, "Abrimos de 9 a 20.", res.Reply)
	assert.True(t, res.ExecutedTools["query_info"])
	assert.Equal(t, []string{"query_info"}, exec.calls)
}

func TestNonBookingHandler_ConversationalPathIgnoresNonWhitelistedTool(t *testing.T) {
	completer := &stubCompleter{responses: []llm.Response{
		{Text: `{"tool_calls": [{"name": "book", "args": {}}]}`},
		{Text: "Claro, dime qué necesitas."},
	}}
	exec := &fakeExecutor{}
	h := New(Config{Completer: completer, Executor: exec, Model: "test-model"})
	conv := &state.Conversation{ConversationID: "C1"}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentUnknown, RawMessage: "hola"},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Equal(t, "Claro, dime qué necesitas.", res.Reply)
	assert.Empty(t, exec.calls)
}

func TestNonBookingHandler_ToolSelectionFailureFallsBackToNoTools(t *testing.T) {
	completer := &stubCompleter{
		errs:      []error{errors.New("breaker open"), nil},
		responses: []llm.Response{{}, {Text: "Disculpa, ¿puedes repetir tu mensaje?"}},
	}
	exec := &fakeExecutor{}
	h := New(Config{Completer: completer, Executor: exec, Model: "test-model"})
	conv := &state.Conversation{ConversationID: "C1"}

	res, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentUnknown, RawMessage: "hola"},
		Conversation: conv,
	})
	require.NoError(t, err)
	assert.Empty(t, exec.calls)
	assert.Equal(t, "Disculpa, ¿puedes repetir tu mensaje?", res.Reply)
}

func TestNonBookingHandler_FinalAnswerErrorPropagates(t *testing.T) {
	completer := &stubCompleter{
		responses: []llm.Response{{Text: `{"tool_calls": []}`}},
		errs:      []error{nil, errors.New("breaker open")},
	}
	h := New(Config{Completer: completer, Executor: &fakeExecutor{}, Model: "test-model"})
	conv := &state.Conversation{ConversationID: "C1"}

	_, err := h.Handle(context.Background(), Request{
		Intent:       fsm.Intent{Type: fsm.IntentUnknown, RawMessage: "hola"},
		Conversation: conv,
	})
	require.Error(t, err)
}
