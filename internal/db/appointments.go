package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// AppointmentRepo persists Appointment rows and backs both the book tool
// and the confirmation scheduler's three sweeps.
type AppointmentRepo struct {
	exec execer
}

// NewAppointmentRepo builds a repository backed by pool.
func NewAppointmentRepo(pool execer) *AppointmentRepo {
	return &AppointmentRepo{exec: pool}
}

// Create inserts a new PENDING appointment and returns it with its
// generated id.
func (r *AppointmentRepo) Create(ctx context.Context, a state.Appointment) (state.Appointment, error) {
	const query = `
		INSERT INTO appointments
			(id, customer_id, stylist_id, service_ids, start_time, duration_minutes, status, calendar_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	a.ID = uuid.NewString()
	if a.Status == "" {
		a.Status = state.AppointmentPending
	}
	if _, err := r.exec.Exec(ctx, query, a.ID, a.CustomerID, a.StylistID, a.ServiceIDs, a.StartTime, a.DurationMinutes, a.Status, a.CalendarEventID); err != nil {
		return state.Appointment{}, fmt.Errorf("db: create appointment: %w", err)
	}
	return a, nil
}

// Get returns one appointment by id.
func (r *AppointmentRepo) Get(ctx context.Context, id string) (state.Appointment, bool, error) {
	const query = `
		SELECT id, customer_id, stylist_id, service_ids, start_time, duration_minutes,
		       status, confirmation_sent_at, reminder_sent_at, cancelled_at, calendar_event_id
		FROM appointments WHERE id = $1
	`
	var a state.Appointment
	err := r.exec.QueryRow(ctx, query, id).Scan(&a.ID, &a.CustomerID, &a.StylistID, &a.ServiceIDs,
		&a.StartTime, &a.DurationMinutes, &a.Status, &a.ConfirmationSentAt, &a.ReminderSentAt,
		&a.CancelledAt, &a.CalendarEventID)
	if err != nil {
		return state.Appointment{}, false, nil
	}
	return a, true, nil
}

// ListConfirmationDue returns PENDING appointments starting between
// hoursBefore-1 and hoursBefore hours from now that have never had a
// confirmation request sent — the scheduler's job 1.
func (r *AppointmentRepo) ListConfirmationDue(ctx context.Context, hoursBefore int) ([]state.Appointment, error) {
	const query = `
		SELECT id, customer_id, stylist_id, service_ids, start_time, duration_minutes,
		       status, confirmation_sent_at, reminder_sent_at, cancelled_at, calendar_event_id
		FROM appointments
		WHERE status = $1
		  AND confirmation_sent_at IS NULL
		  AND start_time >= now() + ($2 || ' hours')::interval - interval '1 hour'
		  AND start_time <= now() + ($2 || ' hours')::interval
		ORDER BY start_time
	`
	return r.queryAppointments(ctx, query, state.AppointmentPending, hoursBefore)
}

// ListAutoCancelDue returns PENDING appointments that were sent a
// confirmation request but never confirmed, now within hoursBefore of
// their start time — the scheduler's job 2.
func (r *AppointmentRepo) ListAutoCancelDue(ctx context.Context, hoursBefore int) ([]state.Appointment, error) {
	const query = `
		SELECT id, customer_id, stylist_id, service_ids, start_time, duration_minutes,
		       status, confirmation_sent_at, reminder_sent_at, cancelled_at, calendar_event_id
		FROM appointments
		WHERE status = $1
		  AND confirmation_sent_at IS NOT NULL
		  AND start_time <= now() + ($2 || ' hours')::interval
		ORDER BY start_time
	`
	return r.queryAppointments(ctx, query, state.AppointmentPending, hoursBefore)
}

// ListReminderDue returns CONFIRMED appointments starting within
// hoursBefore that have never had a reminder sent — the scheduler's job 3.
func (r *AppointmentRepo) ListReminderDue(ctx context.Context, hoursBefore int) ([]state.Appointment, error) {
	const query = `
		SELECT id, customer_id, stylist_id, service_ids, start_time, duration_minutes,
		       status, confirmation_sent_at, reminder_sent_at, cancelled_at, calendar_event_id
		FROM appointments
		WHERE status = $1
		  AND reminder_sent_at IS NULL
		  AND start_time <= now() + ($2 || ' hours')::interval
		ORDER BY start_time
	`
	return r.queryAppointments(ctx, query, state.AppointmentConfirmed, hoursBefore)
}

func (r *AppointmentRepo) queryAppointments(ctx context.Context, query string, status state.AppointmentStatus, hoursBefore int) ([]state.Appointment, error) {
	rows, err := r.exec.Query(ctx, query, status, hoursBefore)
	if err != nil {
		return nil, fmt.Errorf("db: list appointments: %w", err)
	}
	defer rows.Close()

	var out []state.Appointment
	for rows.Next() {
		var a state.Appointment
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.StylistID, &a.ServiceIDs, &a.StartTime, &a.DurationMinutes,
			&a.Status, &a.ConfirmationSentAt, &a.ReminderSentAt, &a.CancelledAt, &a.CalendarEventID); err != nil {
			return nil, fmt.Errorf("db: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkConfirmationSent stamps confirmation_sent_at, called right after the
// scheduler successfully delivers the confirmation template.
func (r *AppointmentRepo) MarkConfirmationSent(ctx context.Context, id string) error {
	const query = `UPDATE appointments SET confirmation_sent_at = now() WHERE id = $1`
	_, err := r.exec.Exec(ctx, query, id)
	return wrapOrNil("mark confirmation sent", err)
}

// MarkConfirmed transitions an appointment to CONFIRMED, the customer's
// reply to the confirmation template.
func (r *AppointmentRepo) MarkConfirmed(ctx context.Context, id string) error {
	const query = `UPDATE appointments SET status = $2 WHERE id = $1 AND status = $3`
	_, err := r.exec.Exec(ctx, query, id, state.AppointmentConfirmed, state.AppointmentPending)
	return wrapOrNil("mark confirmed", err)
}

// MarkCancelled transitions an appointment to CANCELLED, stamping
// cancelled_at. Used both by the explicit cancellation flow and the
// scheduler's auto-cancel sweep.
func (r *AppointmentRepo) MarkCancelled(ctx context.Context, id string) error {
	const query = `UPDATE appointments SET status = $2, cancelled_at = now() WHERE id = $1`
	_, err := r.exec.Exec(ctx, query, id, state.AppointmentCancelled)
	return wrapOrNil("mark cancelled", err)
}

// MarkReminderSent stamps reminder_sent_at after the scheduler's job 3
// delivers the pre-visit reminder.
func (r *AppointmentRepo) MarkReminderSent(ctx context.Context, id string) error {
	const query = `UPDATE appointments SET reminder_sent_at = now() WHERE id = $1`
	_, err := r.exec.Exec(ctx, query, id)
	return wrapOrNil("mark reminder sent", err)
}

// ListUpcomingByCustomer backs the check-my-appointments intent: a
// customer's own pending/confirmed appointments from now on.
func (r *AppointmentRepo) ListUpcomingByCustomer(ctx context.Context, customerID string, now time.Time) ([]state.Appointment, error) {
	const query = `
		SELECT id, customer_id, stylist_id, service_ids, start_time, duration_minutes,
		       status, confirmation_sent_at, reminder_sent_at, cancelled_at, calendar_event_id
		FROM appointments
		WHERE customer_id = $1
		  AND status IN ($2, $3)
		  AND start_time >= $4
		ORDER BY start_time
	`
	rows, err := r.exec.Query(ctx, query, customerID, state.AppointmentPending, state.AppointmentConfirmed, now)
	if err != nil {
		return nil, fmt.Errorf("db: list upcoming appointments: %w", err)
	}
	defer rows.Close()

	var out []state.Appointment
	for rows.Next() {
		var a state.Appointment
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.StylistID, &a.ServiceIDs, &a.StartTime, &a.DurationMinutes,
			&a.Status, &a.ConfirmationSentAt, &a.ReminderSentAt, &a.CancelledAt, &a.CalendarEventID); err != nil {
			return nil, fmt.Errorf("db: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func wrapOrNil(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("db: %s: %w", op, err)
}
