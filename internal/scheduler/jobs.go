package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pepeccz/atrevete-orchestrator/internal/events"
	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// sendConfirmations is job 1: every PENDING appointment starting between
// ConfirmationHoursBefore-1 and ConfirmationHoursBefore hours from now
// with no confirmation sent yet gets the 48h template.
func (s *Scheduler) sendConfirmations(ctx context.Context) jobResult {
	result := jobResult{}

	due, err := s.cfg.Appointments.ListConfirmationDue(ctx, s.cfg.ConfirmationHoursBefore)
	if err != nil {
		s.logger.Error("scheduler: failed to list confirmation-due appointments", "error", err)
		result.errors++
		return result
	}

	for _, appt := range due {
		select {
		case <-ctx.Done():
			return result
		default:
		}
		result.processed++

		customer, ok, err := s.cfg.Customers.Get(ctx, appt.CustomerID)
		if err != nil || !ok || customer.Phone == "" {
			s.logger.Error("scheduler: failed to resolve customer phone", "error", err, "appointment_id", appt.ID)
			result.errors++
			continue
		}

		params := confirmationParams(appt, customer, s.cfg.Location)
		if err := s.cfg.Messenger.SendTemplateMessage(ctx, customer.Phone, s.cfg.ConfirmationTemplate, params, "es", "UTILITY", ""); err != nil {
			s.logger.Error("scheduler: failed to send confirmation template", "error", err, "appointment_id", appt.ID)
			result.errors++
			continue
		}
		if err := s.cfg.Appointments.MarkConfirmationSent(ctx, appt.ID); err != nil {
			s.logger.Error("scheduler: failed to mark confirmation sent", "error", err, "appointment_id", appt.ID)
			result.errors++
			continue
		}
		if s.cfg.Notifier != nil {
			_ = s.cfg.Notifier.Notify(ctx, state.NotificationConfirmationReceived,
				"Solicitud de confirmación enviada",
				fmt.Sprintf("Cita %s: solicitud de confirmación enviada a %s", appt.ID, customer.Phone),
				"appointment", appt.ID)
		}
	}

	return result
}

// autoCancel is job 2: PENDING appointments whose confirmation request
// was sent but never answered, now within AutoCancelHoursBefore of
// starting, are cancelled, their calendar event removed, and the customer
// notified.
func (s *Scheduler) autoCancel(ctx context.Context) jobResult {
	result := jobResult{}

	due, err := s.cfg.Appointments.ListAutoCancelDue(ctx, s.cfg.AutoCancelHoursBefore)
	if err != nil {
		s.logger.Error("scheduler: failed to list auto-cancel-due appointments", "error", err)
		result.errors++
		return result
	}

	for _, appt := range due {
		select {
		case <-ctx.Done():
			return result
		default:
		}
		result.processed++

		if err := s.cfg.Appointments.MarkCancelled(ctx, appt.ID); err != nil {
			s.logger.Error("scheduler: failed to mark appointment auto-cancelled", "error", err, "appointment_id", appt.ID)
			result.errors++
			continue
		}

		if appt.CalendarEventID != "" {
			if stylist, ok, err := s.cfg.Stylists.Get(ctx, appt.StylistID); err == nil && ok && stylist.CalendarID != "" {
				if err := s.cfg.Calendar.DeleteEvent(ctx, stylist.CalendarID, appt.CalendarEventID); err != nil {
					s.logger.Error("scheduler: failed to delete calendar event", "error", err, "appointment_id", appt.ID)
				}
			}
		}

		customer, ok, err := s.cfg.Customers.Get(ctx, appt.CustomerID)
		if err == nil && ok && customer.Phone != "" {
			params := map[string]string{"1": appt.StartTime.In(s.cfg.Location).Format("02/01/2006 15:04")}
			if err := s.cfg.Messenger.SendTemplateMessage(ctx, customer.Phone, s.cfg.CancellationTemplate, params, "es", "UTILITY", ""); err != nil {
				s.logger.Error("scheduler: failed to send auto-cancellation template", "error", err, "appointment_id", appt.ID)
				result.errors++
			}
		}

		if s.cfg.Notifier != nil {
			_ = s.cfg.Notifier.AutoCancelled(ctx, appt.ID,
				fmt.Sprintf("Cita %s cancelada automáticamente: sin confirmación del cliente", appt.ID))
		}

		if err := s.cfg.Events.Append(ctx, appt.ID, events.AppointmentAutoCancelledV1{
			AppointmentID: appt.ID,
			CancelledAt:   time.Now(),
			Reason:        "customer did not confirm before the auto-cancel deadline",
		}); err != nil {
			s.logger.Error("scheduler: failed to append canonical event", "error", err, "appointment_id", appt.ID)
		}
	}

	return result
}

// sendReminders is job 3: every CONFIRMED appointment starting within
// ReminderHoursBefore with no reminder sent yet gets the reminder
// template.
func (s *Scheduler) sendReminders(ctx context.Context) jobResult {
	result := jobResult{}

	due, err := s.cfg.Appointments.ListReminderDue(ctx, s.cfg.ReminderHoursBefore)
	if err != nil {
		s.logger.Error("scheduler: failed to list reminder-due appointments", "error", err)
		result.errors++
		return result
	}

	for _, appt := range due {
		select {
		case <-ctx.Done():
			return result
		default:
		}
		result.processed++

		customer, ok, err := s.cfg.Customers.Get(ctx, appt.CustomerID)
		if err != nil || !ok || customer.Phone == "" {
			s.logger.Error("scheduler: failed to resolve customer phone", "error", err, "appointment_id", appt.ID)
			result.errors++
			continue
		}

		params := map[string]string{"1": appt.StartTime.In(s.cfg.Location).Format("15:04")}
		if err := s.cfg.Messenger.SendTemplateMessage(ctx, customer.Phone, s.cfg.ReminderTemplate, params, "es", "UTILITY", ""); err != nil {
			s.logger.Error("scheduler: failed to send reminder template", "error", err, "appointment_id", appt.ID)
			result.errors++
			continue
		}
		if err := s.cfg.Appointments.MarkReminderSent(ctx, appt.ID); err != nil {
			s.logger.Error("scheduler: failed to mark reminder sent", "error", err, "appointment_id", appt.ID)
			result.errors++
		}
	}

	return result
}

// confirmationParams builds the 48h template's body parameters: date,
// time, and customer first name, falling back to a generic greeting when
// the name isn't on file yet.
func confirmationParams(appt state.Appointment, customer state.Customer, loc *time.Location) map[string]string {
	name := customer.FirstName
	if name == "" {
		name = "cliente"
	}
	local := appt.StartTime.In(loc)
	return map[string]string{
		"1": name,
		"2": local.Format("02/01/2006"),
		"3": local.Format("15:04"),
	}
}
