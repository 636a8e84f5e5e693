package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

type mockEmailSender struct {
	sent   []EmailMessage
	failOn string
}

func (m *mockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.failOn != "" && msg.To == m.failOn {
		return errors.New("mock email error")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockStore struct {
	inserted []state.Notification
	err      error
}

func (m *mockStore) Insert(ctx context.Context, n state.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.inserted = append(m.inserted, n)
	return nil
}

func TestService_Notify_PersistsRow(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, nil, nil, nil)

	err := svc.Notify(context.Background(), state.NotificationAppointmentBooked, "title", "msg", "appointment", "apt-1")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 notification inserted, got %d", len(store.inserted))
	}
	if store.inserted[0].Type != state.NotificationAppointmentBooked {
		t.Errorf("unexpected type: %v", store.inserted[0].Type)
	}
}

func TestService_Notify_StoreErrorReturnsButDoesNotPanic(t *testing.T) {
	store := &mockStore{err: errors.New("db down")}
	svc := NewService(store, nil, nil, nil)

	err := svc.Notify(context.Background(), state.NotificationAppointmentBooked, "t", "m", "appointment", "apt-1")
	if err == nil {
		t.Fatal("expected error when store insert fails")
	}
}

func TestService_Notify_EscalationEmailsAdmins(t *testing.T) {
	store := &mockStore{}
	email := &mockEmailSender{}
	svc := NewService(store, email, []string{"owner@salon.example", "manager@salon.example"}, nil)

	err := svc.Escalate(context.Background(), "conv-1", "error_count >= 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 2 {
		t.Fatalf("expected 2 admin emails, got %d", len(email.sent))
	}
}

func TestService_Notify_BookingCreatedDoesNotEmail(t *testing.T) {
	store := &mockStore{}
	email := &mockEmailSender{}
	svc := NewService(store, email, []string{"owner@salon.example"}, nil)

	err := svc.BookingCreated(context.Background(), "apt-1", "booked")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 0 {
		t.Errorf("expected no admin email for a routine booking, got %d", len(email.sent))
	}
	if len(store.inserted) != 1 {
		t.Errorf("expected notification row to be written")
	}
}

func TestService_Notify_AutoCancelledEmailsAdmins(t *testing.T) {
	store := &mockStore{}
	email := &mockEmailSender{}
	svc := NewService(store, email, []string{"owner@salon.example"}, nil)

	if err := svc.AutoCancelled(context.Background(), "apt-2", "no confirmation"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 1 {
		t.Errorf("expected 1 admin email for auto-cancellation, got %d", len(email.sent))
	}
}

func TestService_Notify_NoEmailWithoutAdminAddresses(t *testing.T) {
	store := &mockStore{}
	email := &mockEmailSender{}
	svc := NewService(store, email, nil, nil)

	if err := svc.Escalate(context.Background(), "conv-1", "reason"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 0 {
		t.Errorf("expected no emails when no admin addresses configured")
	}
}
