package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

type fakeAppointments struct {
	confirmationDue []state.Appointment
	autoCancelDue   []state.Appointment
	reminderDue     []state.Appointment
	listErr         error

	confirmationSent []string
	confirmed        []string
	cancelled        []string
	remindersSent    []string
	markErr          error
}

func (f *fakeAppointments) ListConfirmationDue(ctx context.Context, hoursBefore int) ([]state.Appointment, error) {
	return f.confirmationDue, f.listErr
}
func (f *fakeAppointments) ListAutoCancelDue(ctx context.Context, hoursBefore int) ([]state.Appointment, error) {
	return f.autoCancelDue, f.listErr
}
func (f *fakeAppointments) ListReminderDue(ctx context.Context, hoursBefore int) ([]state.Appointment, error) {
	return f.reminderDue, f.listErr
}
func (f *fakeAppointments) MarkConfirmationSent(ctx context.Context, id string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.confirmationSent = append(f.confirmationSent, id)
	return nil
}
func (f *fakeAppointments) MarkConfirmed(ctx context.Context, id string) error {
	f.confirmed = append(f.confirmed, id)
	return nil
}
func (f *fakeAppointments) MarkCancelled(ctx context.Context, id string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}
func (f *fakeAppointments) MarkReminderSent(ctx context.Context, id string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.remindersSent = append(f.remindersSent, id)
	return nil
}

type fakeCustomers struct {
	byID map[string]state.Customer
}

func (f *fakeCustomers) Get(ctx context.Context, id string) (state.Customer, bool, error) {
	c, ok := f.byID[id]
	return c, ok, nil
}

type fakeStylists struct {
	byID map[string]state.Stylist
}

func (f *fakeStylists) Get(ctx context.Context, id string) (state.Stylist, bool, error) {
	s, ok := f.byID[id]
	return s, ok, nil
}

type fakeMessenger struct {
	calls []string
	err   error
}

func (f *fakeMessenger) SendTemplateMessage(ctx context.Context, phone, templateName string, bodyParams map[string]string, language, category, conversationID string) error {
	f.calls = append(f.calls, templateName)
	return f.err
}

type fakeCalendarCanceller struct {
	deleted []string
	err     error
}

func (f *fakeCalendarCanceller) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	f.deleted = append(f.deleted, eventID)
	return f.err
}

func TestSendConfirmations_SendsTemplateAndMarksSent(t *testing.T) {
	appts := &fakeAppointments{confirmationDue: []state.Appointment{
		{ID: "appt-1", CustomerID: "cust-1", StartTime: time.Date(2999, 1, 1, 10, 0, 0, 0, time.UTC)},
	}}
	customers := &fakeCustomers{byID: map[string]state.Customer{"cust-1": {ID: "cust-1", Phone: "+34600000001", FirstName: "Ana"}}}
	messenger := &fakeMessenger{}

	s := New(Config{Appointments: appts, Customers: customers, Messenger: messenger})
	result := s.sendConfirmations(context.Background())

	assert.Equal(t, 1, result.processed)
	assert.Equal(t, 0, result.errors)
	assert.Equal(t, []string{"appt-1"}, appts.confirmationSent)
	assert.Equal(t, []string{defaultConfirmationTemplate}, messenger.calls)
}

func TestSendConfirmations_UnresolvedCustomerCountsAsError(t *testing.T) {
	appts := &fakeAppointments{confirmationDue: []state.Appointment{{ID: "appt-1", CustomerID: "cust-missing"}}}
	customers := &fakeCustomers{byID: map[string]state.Customer{}}
	messenger := &fakeMessenger{}

	s := New(Config{Appointments: appts, Customers: customers, Messenger: messenger})
	result := s.sendConfirmations(context.Background())

	assert.Equal(t, 1, result.processed)
	assert.Equal(t, 1, result.errors)
	assert.Empty(t, appts.confirmationSent)
}

func TestSendConfirmations_ListErrorShortCircuits(t *testing.T) {
	appts := &fakeAppointments{listErr: errors.New("db down")}
	s := New(Config{Appointments: appts, Customers: &fakeCustomers{}, Messenger: &fakeMessenger{}})
	result := s.sendConfirmations(context.Background())

	assert.Equal(t, 0, result.processed)
	assert.Equal(t, 1, result.errors)
}

func TestAutoCancel_CancelsAndDeletesCalendarEvent(t *testing.T) {
	appts := &fakeAppointments{autoCancelDue: []state.Appointment{
		{ID: "appt-1", CustomerID: "cust-1", StylistID: "sty-1", CalendarEventID: "evt-1", StartTime: time.Date(2999, 1, 1, 10, 0, 0, 0, time.UTC)},
	}}
	customers := &fakeCustomers{byID: map[string]state.Customer{"cust-1": {ID: "cust-1", Phone: "+34600000001"}}}
	stylists := &fakeStylists{byID: map[string]state.Stylist{"sty-1": {ID: "sty-1", CalendarID: "cal-1"}}}
	cal := &fakeCalendarCanceller{}
	messenger := &fakeMessenger{}

	s := New(Config{Appointments: appts, Customers: customers, Stylists: stylists, Calendar: cal, Messenger: messenger})
	result := s.autoCancel(context.Background())

	assert.Equal(t, 1, result.processed)
	assert.Equal(t, 0, result.errors)
	assert.Equal(t, []string{"appt-1"}, appts.cancelled)
	assert.Equal(t, []string{"evt-1"}, cal.deleted)
	assert.Equal(t, []string{defaultCancellationTemplate}, messenger.calls)
}

func TestAutoCancel_MarkCancelledFailureCountsAsErrorAndSkipsRest(t *testing.T) {
	appts := &fakeAppointments{
		autoCancelDue: []state.Appointment{{ID: "appt-1", CustomerID: "cust-1"}},
		markErr:       errors.New("db down"),
	}
	messenger := &fakeMessenger{}
	s := New(Config{Appointments: appts, Customers: &fakeCustomers{}, Messenger: messenger})
	result := s.autoCancel(context.Background())

	assert.Equal(t, 1, result.errors)
	assert.Empty(t, messenger.calls)
}

func TestSendReminders_SendsTemplateAndMarksSent(t *testing.T) {
	appts := &fakeAppointments{reminderDue: []state.Appointment{
		{ID: "appt-1", CustomerID: "cust-1", StartTime: time.Date(2999, 1, 1, 10, 0, 0, 0, time.UTC)},
	}}
	customers := &fakeCustomers{byID: map[string]state.Customer{"cust-1": {ID: "cust-1", Phone: "+34600000001"}}}
	messenger := &fakeMessenger{}

	s := New(Config{Appointments: appts, Customers: customers, Messenger: messenger})
	result := s.sendReminders(context.Background())

	assert.Equal(t, 1, result.processed)
	assert.Equal(t, 0, result.errors)
	assert.Equal(t, []string{"appt-1"}, appts.remindersSent)
	assert.Equal(t, []string{defaultReminderTemplate}, messenger.calls)
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, 48, s.cfg.ConfirmationHoursBefore)
	assert.Equal(t, 24, s.cfg.AutoCancelHoursBefore)
	assert.Equal(t, 2, s.cfg.ReminderHoursBefore)
	assert.Equal(t, "0 10 * * *", s.cfg.DailyJobSchedule)
	assert.Equal(t, "Europe/Madrid", s.cfg.Location.String())
}

func TestRunJob_RecordsHealthSnapshot(t *testing.T) {
	s := New(Config{})
	s.runJob(context.Background(), "send_confirmations", func(ctx context.Context) jobResult {
		return jobResult{processed: 2, errors: 0}
	})

	s.mu.Lock()
	h := s.health["send_confirmations"]
	s.mu.Unlock()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 2, h.Processed)
}

func TestRunJob_RecordsUnhealthyOnErrors(t *testing.T) {
	s := New(Config{})
	s.runJob(context.Background(), "auto_cancel", func(ctx context.Context) jobResult {
		return jobResult{processed: 1, errors: 1}
	})

	s.mu.Lock()
	h := s.health["auto_cancel"]
	s.mu.Unlock()
	assert.Equal(t, "unhealthy", h.Status)
}

func TestRecordHealth_WritesHealthFile(t *testing.T) {
	path := t.TempDir() + "/health.json"
	s := New(Config{HealthFilePath: path})
	s.runJob(context.Background(), "send_reminders", func(ctx context.Context) jobResult {
		return jobResult{processed: 0, errors: 0}
	})

	require.FileExists(t, path)
}
