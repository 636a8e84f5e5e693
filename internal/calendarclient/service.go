package calendarclient

import (
	"context"
	"fmt"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// serviceCalendarAPI adapts *calendar.Service (built from a Google
// service-account JSON credential) to calendarAPI.
type serviceCalendarAPI struct {
	svc *calendar.Service
}

// NewServiceAPI builds the production calendarAPI implementation from a
// service account credential.
func NewServiceAPI(ctx context.Context, credentialsJSON []byte) (*serviceCalendarAPI, error) {
	svc, err := calendar.NewService(ctx, option.WithCredentialsJSON(credentialsJSON))
	if err != nil {
		return nil, fmt.Errorf("calendarclient: build calendar service: %w", err)
	}
	return &serviceCalendarAPI{svc: svc}, nil
}

func (a *serviceCalendarAPI) FreeBusy(ctx context.Context, req *calendar.FreeBusyRequest) (*calendar.FreeBusyResponse, error) {
	return a.svc.Freebusy.Query(req).Context(ctx).Do()
}

func (a *serviceCalendarAPI) InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	return a.svc.Events.Insert(calendarID, event).Context(ctx).Do()
}

func (a *serviceCalendarAPI) PatchEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error) {
	return a.svc.Events.Patch(calendarID, eventID, event).Context(ctx).Do()
}

func (a *serviceCalendarAPI) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return a.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
}

var _ calendarAPI = (*serviceCalendarAPI)(nil)
