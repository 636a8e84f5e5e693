package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/pepeccz/atrevete-orchestrator/internal/calendarclient"
	"github.com/pepeccz/atrevete-orchestrator/internal/errs"
	"github.com/pepeccz/atrevete-orchestrator/internal/events"
	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// book implements the book tool, the only mutating tool the FSM ever
// prescribes and the sole path an appointment row can be created
// through. Side effects run in a fixed order: resolve the requested
// services, re-check the slot is still free (a conflict can appear
// between slot selection and confirmation), persist the appointment,
// create its calendar event, and raise the admin notification. A failure
// partway through is returned as-is to the caller; the tool itself never
// changes FSM state.
func (r *Registry) book(ctx context.Context, args Args) (Result, error) {
	customerID := str(args, "customer_id")
	firstName := str(args, "first_name")
	lastName := str(args, "last_name")
	stylistID := str(args, "stylist_id")
	startStr := str(args, "start_time")
	serviceNames := strSlice(args, "services")
	conversationID := str(args, "conversation_id")

	startTime, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "tools.book", fmt.Errorf("invalid start_time %q: %w", startStr, err))
	}

	serviceIDs, totalDuration, serviceDisplayNames, err := r.resolveServices(ctx, serviceNames)
	if err != nil {
		return nil, err
	}

	stylist, found, err := r.cfg.Stylists.Get(ctx, stylistID)
	if err != nil {
		return nil, fmt.Errorf("tools: book: load stylist: %w", err)
	}
	if !found {
		return nil, errs.Wrap(errs.KindValidation, "tools.book", fmt.Errorf("unknown stylist %q", stylistID))
	}

	if err := r.checkNoConflict(ctx, stylist, startTime, totalDuration); err != nil {
		return nil, err
	}

	if firstName != "" {
		if err := r.cfg.Customers.UpdateName(ctx, customerID, firstName, lastName); err != nil {
			return nil, fmt.Errorf("tools: book: update customer name: %w", err)
		}
	}

	appt := state.Appointment{
		CustomerID:      customerID,
		StylistID:       stylistID,
		ServiceIDs:      serviceIDs,
		StartTime:       startTime,
		DurationMinutes: totalDuration,
	}
	created, err := r.cfg.Appointments.Create(ctx, appt)
	if err != nil {
		return nil, fmt.Errorf("tools: book: create appointment: %w", err)
	}

	if err := r.cfg.Events.Append(ctx, created.ID, events.AppointmentBookedV1{
		AppointmentID:   created.ID,
		CustomerID:      customerID,
		StylistID:       stylistID,
		ServiceIDs:      serviceIDs,
		StartTime:       startTime,
		DurationMinutes: totalDuration,
		BookedAt:        time.Now(),
	}); err != nil {
		r.cfg.Logger.Error("tools: book: failed to append canonical event", "error", err, "appointment_id", created.ID)
	}

	var calendarLink string
	if r.cfg.Calendar != nil && stylist.CalendarID != "" {
		eventID, err := r.cfg.Calendar.CreateEvent(ctx, calendarclient.EventInput{
			CalendarID:  stylist.CalendarID,
			Summary:     fmt.Sprintf("%s - %s", joinNames(firstName, lastName), serviceDisplayNames),
			Description: fmt.Sprintf("Reservado por WhatsApp. Conversación: %s", conversationID),
			Start:       startTime,
			End:         startTime.Add(time.Duration(totalDuration) * time.Minute),
			TimeZone:    r.cfg.Location.String(),
		})
		if err != nil {
			r.cfg.Logger.Error("tools: book: calendar event creation failed", "error", err, "appointment_id", created.ID)
		} else {
			calendarLink = fmt.Sprintf("https://calendar.google.com/calendar/event?eid=%s", eventID)
		}
	}

	if r.cfg.Notifier != nil {
		summary := fmt.Sprintf("%s reservó %s con %s el %s", joinNames(firstName, lastName), serviceDisplayNames, stylist.Name, startTime.Format("02/01/2006 15:04"))
		if err := r.cfg.Notifier.BookingCreated(ctx, created.ID, summary); err != nil {
			r.cfg.Logger.Error("tools: book: admin notification failed", "error", err, "appointment_id", created.ID)
		}
	}

	address, err := r.cfg.Policies.SalonAddress(ctx)
	if err != nil {
		address = ""
	}

	return Result{
		"appointment_id": created.ID,
		"friendly_date":  startTime.Format("Monday 02/01/2006 a las 15:04"),
		"stylist_name":   stylist.Name,
		"service_names":  serviceDisplayNames,
		"salon_address":  address,
		"calendar_link":  calendarLink,
		"success":        true,
	}, nil
}

// resolveServices maps the free-text service names collected during
// SERVICE_SELECTION to catalog entries, summing their durations.
func (r *Registry) resolveServices(ctx context.Context, names []string) ([]string, int, string, error) {
	var ids []string
	var display []string
	total := 0
	for _, name := range names {
		svc, err := r.cfg.Resolver.Resolve(ctx, name)
		if err != nil {
			return nil, 0, "", errs.Wrap(errs.KindValidation, "tools.book", fmt.Errorf("resolve service %q: %w", name, err))
		}
		ids = append(ids, svc.ID)
		display = append(display, svc.Name)
		total += svc.DurationMinutes
	}
	if total == 0 {
		total = 60
	}
	return ids, total, joinStringsList(display, ", "), nil
}

// checkNoConflict re-runs the stylist's busy-window check right before
// commit, since time has passed since the slot was offered and another
// conversation or a manual calendar entry may have claimed it.
func (r *Registry) checkNoConflict(ctx context.Context, stylist state.Stylist, start time.Time, durationMinutes int) error {
	if r.cfg.Calendar == nil || stylist.CalendarID == "" {
		return nil
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	busy, err := r.cfg.Calendar.ListBusy(ctx, stylist.CalendarID, start, end)
	if err != nil {
		return fmt.Errorf("tools: book: conflict check: %w", err)
	}
	for _, b := range busy {
		if start.Before(b.End) && end.After(b.Start) {
			return errs.Wrap(errs.KindConflict, "tools.book", fmt.Errorf("slot %s with stylist %s was just taken", start.Format(time.RFC3339), stylist.ID))
		}
	}
	return nil
}

func joinNames(first, last string) string {
	if last == "" {
		return first
	}
	return first + " " + last
}

func joinStringsList(parts []string, sep string) string {
	out := ""
	for _, p := range parts {
		if out != "" {
			out += sep
		}
		out += p
	}
	return out
}
