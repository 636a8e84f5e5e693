package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepeccz/atrevete-orchestrator/internal/calendarclient"
	"github.com/pepeccz/atrevete-orchestrator/internal/catalog"
	"github.com/pepeccz/atrevete-orchestrator/internal/errs"
	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

type bookAppointments struct {
	created []state.Appointment
	err     error
}

func (f *bookAppointments) Create(ctx context.Context, a state.Appointment) (state.Appointment, error) {
	if f.err != nil {
		return state.Appointment{}, f.err
	}
	a.ID = "appt-new"
	f.created = append(f.created, a)
	return a, nil
}

func bookRegistry(t *testing.T, stylist state.Stylist, cal CalendarSource, customers *fakeCustomers, appts *bookAppointments) *Registry {
	t.Helper()
	svcSource := fakeServices{services: []state.Service{
		{ID: "svc-1", Name: "Corte de Caballero", DurationMinutes: 30, Category: state.CategoryHairdressing, Active: true},
	}}
	return New(Config{
		Resolver:     catalog.New(svcSource),
		Services:     svcSource,
		Stylists:     availStylists{stylists: []state.Stylist{stylist}},
		Customers:    customers,
		Appointments: appts,
		Calendar:     cal,
		Policies:     fakePolicies{address: "Calle Mayor 1, Madrid"},
		Location:     time.UTC,
	})
}

func TestBook_HappyPathCreatesAppointmentAndCalendarEvent(t *testing.T) {
	stylist := state.Stylist{ID: "sty-1", Name: "Maite", CalendarID: "cal-1"}
	cal := availCalendar{busy: map[string][]calendarclient.BusyInterval{}}
	customers := &fakeCustomers{byPhone: map[string]state.Customer{
		"+34600000001": {ID: "cust-1", Phone: "+34600000001"},
	}}
	appts := &bookAppointments{}
	r := bookRegistry(t, stylist, cal, customers, appts)

	res, err := r.Call(context.Background(), NameBook, Args{
		"customer_id": "cust-1", "first_name": "Ana", "last_name": "García",
		"stylist_id": "sty-1", "start_time": "2999-01-03T10:00:00Z",
		"services": []string{"Corte de Caballero"}, "conversation_id": "conv-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "appt-new", res["appointment_id"])
	assert.Equal(t, "Maite", res["stylist_name"])
	assert.Equal(t, "Corte de Caballero", res["service_names"])
	assert.Equal(t, "Calle Mayor 1, Madrid", res["salon_address"])
	assert.NotEmpty(t, res["calendar_link"])
	assert.Equal(t, true, res["success"])
	require.Len(t, appts.created, 1)
	assert.Equal(t, 30, appts.created[0].DurationMinutes)
}

func TestBook_InvalidStartTimeReturnsValidationError(t *testing.T) {
	stylist := state.Stylist{ID: "sty-1", Name: "Maite"}
	r := bookRegistry(t, stylist, nil, &fakeCustomers{byPhone: map[string]state.Customer{}}, &bookAppointments{})

	_, err := r.Call(context.Background(), NameBook, Args{
		"stylist_id": "sty-1", "start_time": "not-a-time", "services": []string{"Corte de Caballero"},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.OfKind(err))
}

func TestBook_UnknownServiceReturnsValidationError(t *testing.T) {
	stylist := state.Stylist{ID: "sty-1", Name: "Maite"}
	r := bookRegistry(t, stylist, nil, &fakeCustomers{byPhone: map[string]state.Customer{}}, &bookAppointments{})

	_, err := r.Call(context.Background(), NameBook, Args{
		"stylist_id": "sty-1", "start_time": "2999-01-03T10:00:00Z", "services": []string{"masaje deportivo"},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.OfKind(err))
}

func TestBook_UnknownStylistReturnsValidationError(t *testing.T) {
	stylist := state.Stylist{ID: "sty-1", Name: "Maite"}
	r := bookRegistry(t, stylist, nil, &fakeCustomers{byPhone: map[string]state.Customer{}}, &bookAppointments{})

	_, err := r.Call(context.Background(), NameBook, Args{
		"stylist_id": "sty-does-not-exist", "start_time": "2999-01-03T10:00:00Z", "services": []string{"Corte de Caballero"},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.OfKind(err))
}

func TestBook_ConflictAtCommitReturnsConflictError(t *testing.T) {
	stylist := state.Stylist{ID: "sty-1", Name: "Maite", CalendarID: "cal-1"}
	start, err := time.Parse(time.RFC3339, "2999-01-03T10:00:00Z")
	require.NoError(t, err)
	cal := availCalendar{busy: map[string][]calendarclient.BusyInterval{
		"cal-1": {{Start: start, End: start.Add(30 * time.Minute)}},
	}}
	r := bookRegistry(t, stylist, cal, &fakeCustomers{byPhone: map[string]state.Customer{}}, &bookAppointments{})

	_, err = r.Call(context.Background(), NameBook, Args{
		"stylist_id": "sty-1", "start_time": "2999-01-03T10:00:00Z", "services": []string{"Corte de Caballero"},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.OfKind(err))
}

func TestBook_UpdatesCustomerNameWhenFirstNameProvided(t *testing.T) {
	stylist := state.Stylist{ID: "sty-1", Name: "Maite"}
	customers := &fakeCustomers{byPhone: map[string]state.Customer{
		"+34600000001": {ID: "cust-1", Phone: "+34600000001"},
	}}
	r := bookRegistry(t, stylist, nil, customers, &bookAppointments{})

	_, err := r.Call(context.Background(), NameBook, Args{
		"customer_id": "cust-1", "first_name": "Ana", "last_name": "García",
		"stylist_id": "sty-1", "start_time": "2999-01-03T10:00:00Z", "services": []string{"Corte de Caballero"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ana", customers.byPhone["+34600000001"].FirstName)
}
