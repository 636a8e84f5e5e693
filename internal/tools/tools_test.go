package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepeccz/atrevete-orchestrator/internal/catalog"
	"github.com/pepeccz/atrevete-orchestrator/internal/fsm"
	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

type fakeServices struct{ services []state.Service }

func (f fakeServices) ActiveServices(ctx context.Context) ([]state.Service, error) {
	return f.services, nil
}
func (f fakeServices) Get(ctx context.Context, id string) (state.Service, bool, error) {
	for _, s := range f.services {
		if s.ID == id {
			return s, true, nil
		}
	}
	return state.Service{}, false, nil
}

type fakeStylists struct{ stylists []state.Stylist }

func (f fakeStylists) ActiveByCategory(ctx context.Context, category state.ServiceCategory) ([]state.Stylist, error) {
	var out []state.Stylist
	for _, s := range f.stylists {
		for _, c := range s.Categories {
			if c == category {
				out = append(out, s)
			}
		}
	}
	return out, nil
}
func (f fakeStylists) Get(ctx context.Context, id string) (state.Stylist, bool, error) {
	for _, s := range f.stylists {
		if s.ID == id {
			return s, true, nil
		}
	}
	return state.Stylist{}, false, nil
}

type fakeHours struct {
	open map[time.Weekday]state.BusinessHours
}

func (f fakeHours) BusinessHoursFor(ctx context.Context, day time.Weekday) (state.BusinessHours, bool, error) {
	h, ok := f.open[day]
	return h, ok, nil
}
func (f fakeHours) IsHoliday(ctx context.Context, day time.Time) (bool, error) { return false, nil }

type fakePolicies struct {
	faqs    []state.Policy
	kv      map[string]string
	address string
}

func (f fakePolicies) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.kv[key]
	return v, ok, nil
}
func (f fakePolicies) FAQs(ctx context.Context) ([]state.Policy, error) { return f.faqs, nil }
func (f fakePolicies) SalonAddress(ctx context.Context) (string, error) { return f.address, nil }

type fakeCustomers struct {
	byPhone map[string]state.Customer
}

func (f *fakeCustomers) FindByPhone(ctx context.Context, phone string) (state.Customer, bool, error) {
	c, ok := f.byPhone[phone]
	return c, ok, nil
}
func (f *fakeCustomers) GetOrCreate(ctx context.Context, phone string) (state.Customer, error) {
	if c, ok := f.byPhone[phone]; ok {
		return c, nil
	}
	c := state.Customer{ID: "cust-new", Phone: phone}
	f.byPhone[phone] = c
	return c, nil
}
func (f *fakeCustomers) UpdateName(ctx context.Context, customerID, firstName, lastName string) error {
	for phone, c := range f.byPhone {
		if c.ID == customerID {
			c.FirstName, c.LastName = firstName, lastName
			f.byPhone[phone] = c
			return nil
		}
	}
	return errors.New("customer not found")
}

type fakeMessaging struct {
	calls []string
}

func (f *fakeMessaging) UpdateConversationAttributes(ctx context.Context, conversationID string, attributes map[string]any) error {
	f.calls = append(f.calls, conversationID)
	return nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	svcSource := fakeServices{services: []state.Service{
		{ID: "svc-1", Name: "Corte de Caballero", DurationMinutes: 30, Category: state.CategoryHairdressing, Active: true},
		{ID: "svc-2", Name: "Manicura", DurationMinutes: 40, Category: state.CategoryAesthetics, Active: true},
	}}
	return New(Config{
		Resolver: catalog.New(svcSource),
		Services: svcSource,
		Stylists: fakeStylists{stylists: []state.Stylist{
			{ID: "sty-1", Name: "Maite", Categories: []state.ServiceCategory{state.CategoryHairdressing}, Active: true},
			{ID: "sty-2", Name: "Laura", Categories: []state.ServiceCategory{state.CategoryAesthetics}, Active: true},
		}},
		Hours: fakeHours{open: map[time.Weekday]state.BusinessHours{
			time.Monday: {DayOfWeek: 1, Start: "09:00", End: "20:00"},
		}},
		Policies: fakePolicies{
			faqs:    []state.Policy{{Key: "faq_parking", Value: "Hay parking gratuito cerca del salón."}},
			kv:      map[string]string{"cancellation_policy": "Puedes cancelar hasta 24h antes."},
			address: "Calle Mayor 1, Madrid",
		},
		Customers: &fakeCustomers{byPhone: map[string]state.Customer{
			"+34600000001": {ID: "cust-1", Phone: "+34600000001", FirstName: "Ana"},
		}},
		Messaging: &fakeMessaging{},
		SiteName:  "Salón Atrévete",
		SiteURL:   "https://atrevete.example",
	})
}

func TestSearchServices_ReturnsRankedCatalog(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameSearchServices, Args{"query": "corte", "max_results": 5})
	require.NoError(t, err)
	services, _ := res["services"].([]map[string]any)
	require.Len(t, services, 1)
	assert.Equal(t, "svc-1", services[0]["id"])
}

func TestSearchServices_EmptyResultAddsNote(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameSearchServices, Args{"query": "masaje deportivo"})
	require.NoError(t, err)
	assert.Equal(t, 0, res["count_shown"])
	assert.NotEmpty(t, res["note"])
}

func TestListStylists_FiltersByCategory(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameListStylists, Args{"category": "AESTHETICS"})
	require.NoError(t, err)
	stylists, _ := res["stylists"].([]map[string]any)
	require.Len(t, stylists, 1)
	assert.Equal(t, "sty-2", stylists[0]["id"])
}

func TestQueryInfo_Hours(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameQueryInfo, Args{"type": "hours"})
	require.NoError(t, err)
	days, _ := res["hours"].([]map[string]any)
	require.Len(t, days, 7)
}

func TestQueryInfo_FAQFiltersByQuery(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameQueryInfo, Args{"type": "faq", "query": "parking"})
	require.NoError(t, err)
	assert.Equal(t, 1, res["count"])
}

func TestQueryInfo_PolicyRequiresKey(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Call(context.Background(), NameQueryInfo, Args{"type": "policy"})
	assert.Error(t, err)
}

func TestQueryInfo_PolicyLooksUpByFiltersKey(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameQueryInfo, Args{
		"type": "policy", "filters": map[string]any{"key": "cancellation_policy"},
	})
	require.NoError(t, err)
	assert.True(t, res["found"].(bool))
	assert.Equal(t, "Puedes cancelar hasta 24h antes.", res["value"])
}

func TestQueryInfo_Location(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameQueryInfo, Args{"type": "location"})
	require.NoError(t, err)
	assert.Equal(t, "Calle Mayor 1, Madrid", res["address"])
	assert.Equal(t, "Salón Atrévete", res["site_name"])
}

func TestManageCustomer_GetFound(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameManageCustomer, Args{"action": "get", "phone": "+34600000001"})
	require.NoError(t, err)
	assert.True(t, res["found"].(bool))
	assert.Equal(t, "cust-1", res["customer_id"])
}

func TestManageCustomer_GetNotFound(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameManageCustomer, Args{"action": "get", "phone": "+34699999999"})
	require.NoError(t, err)
	assert.False(t, res["found"].(bool))
}

func TestManageCustomer_UpdateNameRequiresFirstName(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Call(context.Background(), NameManageCustomer, Args{
		"action": "update_name", "phone": "+34600000001", "data": map[string]any{},
	})
	assert.Error(t, err)
}

func TestManageCustomer_RequiresPhone(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Call(context.Background(), NameManageCustomer, Args{"action": "get"})
	assert.Error(t, err)
}

func TestEscalateToHuman_DisablesBotAndReturnsMessage(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameEscalateToHuman, Args{
		"reason": "cliente enfadado", "conversation_id": "conv-1",
	})
	require.NoError(t, err)
	assert.True(t, res["escalated"].(bool))
	assert.Equal(t, "cliente enfadado", res["reason"])

	messaging := r.cfg.Messaging.(*fakeMessaging)
	assert.Equal(t, []string{"conv-1"}, messaging.calls)
}

func TestEscalateToHuman_DefaultsReasonWhenEmpty(t *testing.T) {
	r := testRegistry(t)
	res, err := r.Call(context.Background(), NameEscalateToHuman, Args{"conversation_id": "conv-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res["reason"])
}

func TestCall_UnknownToolErrors(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Call(context.Background(), Name("not_a_real_tool"), Args{})
	assert.Error(t, err)
}

type recordingExecutor struct {
	calls   []string
	failing map[string]error
}

func (e *recordingExecutor) Call(ctx context.Context, name Name, args Args) (Result, error) {
	e.calls = append(e.calls, string(name))
	if err, ok := e.failing[string(name)]; ok {
		return nil, err
	}
	return Result{string(name): "ok"}, nil
}

func TestExecuteSequence_RequiredFailureAborts(t *testing.T) {
	exec := &recordingExecutor{failing: map[string]error{"search_services": errors.New("boom")}}
	calls := []fsm.ToolCall{
		{Name: "search_services", Required: true},
		{Name: "list_stylists", Required: true},
	}
	_, err := ExecuteSequence(context.Background(), exec, calls)
	require.Error(t, err)
	assert.Equal(t, []string{"search_services"}, exec.calls)
}

func TestExecuteSequence_OptionalFailureContinues(t *testing.T) {
	exec := &recordingExecutor{failing: map[string]error{"search_services": errors.New("boom")}}
	calls := []fsm.ToolCall{
		{Name: "search_services", Required: false},
		{Name: "list_stylists", Required: true},
	}
	merged, err := ExecuteSequence(context.Background(), exec, calls)
	require.NoError(t, err)
	assert.Equal(t, []string{"search_services", "list_stylists"}, exec.calls)

	errResult, _ := merged["search_services"].(map[string]any)
	require.NotNil(t, errResult)
	assert.Equal(t, "boom", errResult["error"])
	assert.Equal(t, "ok", merged["list_stylists"])
}
