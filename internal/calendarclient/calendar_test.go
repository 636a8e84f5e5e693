package calendarclient

import (
	"context"
	"errors"
	"testing"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"github.com/stretchr/testify/require"

	"github.com/pepeccz/atrevete-orchestrator/internal/breaker"
)

type fakeCalendarAPI struct {
	freeBusyResp *calendar.FreeBusyResponse
	freeBusyErr  error
	insertedID   string
	insertErr    error
	deleteErr    error
}

func (f *fakeCalendarAPI) FreeBusy(ctx context.Context, req *calendar.FreeBusyRequest) (*calendar.FreeBusyResponse, error) {
	return f.freeBusyResp, f.freeBusyErr
}

func (f *fakeCalendarAPI) InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	return &calendar.Event{Id: f.insertedID}, nil
}

func (f *fakeCalendarAPI) PatchEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error) {
	return event, nil
}

func (f *fakeCalendarAPI) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return f.deleteErr
}

func newTestBreaker(t *testing.T, name string) *breaker.Breaker {
	t.Helper()
	return breaker.Get(name+"-"+t.Name(), breaker.Config{FailMax: 5, ResetTimeout: time.Minute}, nil)
}

func TestListBusyParsesIntervals(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	api := &fakeCalendarAPI{
		freeBusyResp: &calendar.FreeBusyResponse{
			Calendars: map[string]calendar.FreeBusyCalendar{
				"cal-1": {
					Busy: []*calendar.TimePeriod{
						{Start: now.Format(time.RFC3339), End: now.Add(time.Hour).Format(time.RFC3339)},
					},
				},
			},
		},
	}
	client := New(api, newTestBreaker(t, "calendar"))

	busy, err := client.ListBusy(context.Background(), "cal-1", now, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	require.True(t, busy[0].Start.Equal(now))
}

func TestCreateEventReturnsID(t *testing.T) {
	api := &fakeCalendarAPI{insertedID: "evt-123"}
	client := New(api, newTestBreaker(t, "calendar"))

	id, err := client.CreateEvent(context.Background(), EventInput{
		CalendarID: "cal-1",
		Summary:    "Corte de pelo",
		Start:      time.Now(),
		End:        time.Now().Add(30 * time.Minute),
	})
	require.NoError(t, err)
	require.Equal(t, "evt-123", id)
}

func TestCreateEventPropagatesError(t *testing.T) {
	api := &fakeCalendarAPI{insertErr: errors.New("quota exceeded")}
	client := New(api, newTestBreaker(t, "calendar"))

	_, err := client.CreateEvent(context.Background(), EventInput{CalendarID: "cal-1"})
	require.Error(t, err)
}

func TestDeleteEventPropagatesError(t *testing.T) {
	api := &fakeCalendarAPI{deleteErr: errors.New("not found")}
	client := New(api, newTestBreaker(t, "calendar"))

	err := client.DeleteEvent(context.Background(), "cal-1", "evt-1")
	require.Error(t, err)
}
