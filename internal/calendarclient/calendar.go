// Package calendarclient wraps the Google Calendar API calls the
// availability search and booking tools need: checking busy
// windows on a stylist's calendar and creating/updating/removing the
// event a confirmed booking owns. Shaped the same way as this module's
// other external-dependency wrappers (internal/llm, internal/messagingclient):
// a narrow interface over the concrete SDK client plus a circuit breaker
// in front of every call, so a Calendar outage degrades to
// errs.ErrBreakerOpen instead of hanging the turn.
package calendarclient

import (
	"context"
	"fmt"
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/pepeccz/atrevete-orchestrator/internal/breaker"
)

// BusyInterval is one busy window reported by a freebusy query.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// EventInput is what the caller supplies to create or patch a calendar
// event for a booking.
type EventInput struct {
	CalendarID  string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
}

type calendarAPI interface {
	FreeBusy(ctx context.Context, req *calendar.FreeBusyRequest) (*calendar.FreeBusyResponse, error)
	InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error)
	PatchEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Client queries and mutates Google Calendar, failing fast via a named
// circuit breaker once the dependency starts erroring.
type Client struct {
	api     calendarAPI
	breaker *breaker.Breaker
}

// New builds a Client. api is typically a *serviceCalendarAPI wrapping a
// *calendar.Service.
func New(api calendarAPI, br *breaker.Breaker) *Client {
	return &Client{api: api, breaker: br}
}

// ListBusy returns the busy intervals on calendarID between from and to,
// feeding the find_next_available tool's availability search.
func (c *Client) ListBusy(ctx context.Context, calendarID string, from, to time.Time) ([]BusyInterval, error) {
	var out []BusyInterval
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		resp, err := c.api.FreeBusy(ctx, &calendar.FreeBusyRequest{
			TimeMin: from.Format(time.RFC3339),
			TimeMax: to.Format(time.RFC3339),
			Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
		})
		if err != nil {
			return fmt.Errorf("calendarclient: freebusy query: %w", err)
		}
		cal, ok := resp.Calendars[calendarID]
		if !ok {
			return nil
		}
		for _, period := range cal.Busy {
			start, errStart := time.Parse(time.RFC3339, period.Start)
			end, errEnd := time.Parse(time.RFC3339, period.End)
			if errStart != nil || errEnd != nil {
				continue
			}
			out = append(out, BusyInterval{Start: start, End: end})
		}
		return nil
	})
	return out, err
}

// CreateEvent creates a calendar event for a newly booked appointment
// and returns its event id, stored as
// Appointment.CalendarEventID.
func (c *Client) CreateEvent(ctx context.Context, in EventInput) (string, error) {
	var eventID string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		event, err := c.api.InsertEvent(ctx, in.CalendarID, toCalendarEvent(in))
		if err != nil {
			return fmt.Errorf("calendarclient: insert event: %w", err)
		}
		eventID = event.Id
		return nil
	})
	return eventID, err
}

// PatchEvent updates an existing event's time, used when a booking's slot
// changes after the calendar event was already created.
func (c *Client) PatchEvent(ctx context.Context, eventID string, in EventInput) error {
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		if _, err := c.api.PatchEvent(ctx, in.CalendarID, eventID, toCalendarEvent(in)); err != nil {
			return fmt.Errorf("calendarclient: patch event: %w", err)
		}
		return nil
	})
}

// DeleteEvent removes a calendar event, called on cancellation and
// auto-cancellation.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		if err := c.api.DeleteEvent(ctx, calendarID, eventID); err != nil {
			return fmt.Errorf("calendarclient: delete event: %w", err)
		}
		return nil
	})
}

func toCalendarEvent(in EventInput) *calendar.Event {
	tz := in.TimeZone
	if tz == "" {
		tz = "Europe/Madrid"
	}
	return &calendar.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       &calendar.EventDateTime{DateTime: in.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: in.End.Format(time.RFC3339), TimeZone: tz},
	}
}
