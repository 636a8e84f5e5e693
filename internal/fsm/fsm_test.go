package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

type stubNameLoader struct {
	firstName, lastName string
	found                bool
}

func (s stubNameLoader) LoadName(context.Context, string) (string, string, bool, error) {
	return s.firstName, s.lastName, s.found, nil
}
func (s stubNameLoader) UpdateName(context.Context, string, string, string) error { return nil }

type stubSlotValidator struct {
	valid   bool
	message string
}

func (s stubSlotValidator) ValidateComplete(context.Context, map[string]any) (bool, string, error) {
	return s.valid, s.message, nil
}

func TestStartBookingFromIdle(t *testing.T) {
	f := New("conv-1", nil, nil)
	res, err := f.Transition(context.Background(), Intent{Type: IntentStartBooking})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StateServiceSelection, f.State())
}

func TestInvalidTransitionReportsErrors(t *testing.T) {
	f := New("conv-1", nil, nil)
	res, err := f.Transition(context.Background(), Intent{Type: IntentSelectSlot})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StateIdle, f.State())
	assert.NotEmpty(t, res.ValidationErrors)
}

func TestCancelBookingResetsFromAnyState(t *testing.T) {
	f := New("conv-1", nil, nil)
	_, _ = f.Transition(context.Background(), Intent{Type: IntentStartBooking})
	_, _ = f.Transition(context.Background(), Intent{
		Type:     IntentSelectService,
		Entities: map[string]any{"services": []any{"Corte"}},
	})
	res, err := f.Transition(context.Background(), Intent{Type: IntentCancelBooking})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StateIdle, f.State())
	assert.Empty(t, f.CollectedData())
}

func TestServicesAccumulateAndDeduplicate(t *testing.T) {
	f := New("conv-1", nil, nil)
	_, _ = f.Transition(context.Background(), Intent{Type: IntentStartBooking})
	_, _ = f.Transition(context.Background(), Intent{
		Type:     IntentSelectService,
		Entities: map[string]any{"services": []any{"Corte", "Tinte"}},
	})
	_, _ = f.Transition(context.Background(), Intent{
		Type:     IntentSelectService,
		Entities: map[string]any{"services": []any{"Corte", "Peinado"}},
	})
	services, _ := asStringSlice(f.CollectedData()["services"])
	assert.Equal(t, []string{"Corte", "Tinte", "Peinado"}, services)
}

func TestConfirmServicesRequiresServices(t *testing.T) {
	f := New("conv-1", nil, nil)
	_, _ = f.Transition(context.Background(), Intent{Type: IntentStartBooking})
	res, err := f.Transition(context.Background(), Intent{Type: IntentConfirmServices})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StateServiceSelection, f.State())
}

func TestSlotSelectionResolvesStylistChangeBeforeValidator(t *testing.T) {
	f := New("conv-1", nil, stubSlotValidator{valid: true})
	f.state = StateSlotSelection
	f.collectedData["stylist_id"] = "stylist-a"

	res, err := f.Transition(context.Background(), Intent{
		Type: IntentSelectSlot,
		Entities: map[string]any{
			"slot": map[string]any{
				"start_time":   "2026-08-10T10:00:00Z",
				"stylist_id":   "stylist-b",
				"stylist_name": "Ana",
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StateSlotSelection, f.State())
	assert.Equal(t, "confirm_stylist_change", res.NextAction)
	assert.Equal(t, true, f.CollectedData()["pending_stylist_change"])
}

func TestSlotSelectionRejectedBySlotValidator(t *testing.T) {
	f := New("conv-1", nil, stubSlotValidator{valid: false, message: "día cerrado"})
	f.state = StateSlotSelection
	f.collectedData["stylist_id"] = "stylist-a"

	res, err := f.Transition(context.Background(), Intent{
		Type: IntentSelectSlot,
		Entities: map[string]any{
			"slot": map[string]any{"start_time": "2026-08-10T10:00:00Z", "stylist_id": "stylist-a"},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"día cerrado"}, res.ValidationErrors)
	assert.Equal(t, StateSlotSelection, f.State())
}

func TestCustomerDataTwoPhasesAdvanceToConfirmation(t *testing.T) {
	f := New("conv-1", nil, nil)
	f.state = StateCustomerData
	f.collectedData["services"] = []string{"Corte"}
	f.collectedData["stylist_id"] = "s1"
	f.collectedData["slot"] = map[string]any{"start_time": "2026-08-10T10:00:00Z"}

	res, err := f.Transition(context.Background(), Intent{
		Type:     IntentProvideCustomerData,
		Entities: map[string]any{"first_name": "Lucía"},
	})
	require.NoError(t, err)
	assert.Equal(t, StateCustomerData, f.State())
	assert.Equal(t, "Lucía", f.CollectedData()["first_name"])
	_ = res

	res2, err := f.Transition(context.Background(), Intent{Type: IntentProvideCustomerData})
	require.NoError(t, err)
	assert.True(t, res2.Success)
	assert.Equal(t, StateConfirmation, f.State())
}

func TestUseCustomerNameLoadsAndPendsConfirmation(t *testing.T) {
	loader := stubNameLoader{firstName: "Marta", lastName: "Ruiz", found: true}
	f := New("conv-1", loader, nil)
	f.state = StateCustomerData
	f.collectedData["customer_id"] = "cust-1"

	res, err := f.Transition(context.Background(), Intent{Type: IntentUseCustomerName})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StateCustomerData, f.State())
	assert.Equal(t, true, f.CollectedData()["name_confirmation_pending"])

	res2, err := f.Transition(context.Background(), Intent{Type: IntentConfirmName})
	require.NoError(t, err)
	assert.True(t, res2.Success)
	assert.Equal(t, "Marta", f.CollectedData()["first_name"])
	assert.Equal(t, false, f.CollectedData()["name_confirmation_pending"])
}

func TestBookedRestartsPreservingCustomerID(t *testing.T) {
	f := New("conv-1", nil, nil)
	f.state = StateBooked
	f.collectedData["customer_id"] = "cust-1"
	f.collectedData["services"] = []string{"Corte"}

	res, err := f.Transition(context.Background(), Intent{Type: IntentStartBooking})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StateServiceSelection, f.State())
	assert.Equal(t, map[string]any{"customer_id": "cust-1"}, f.CollectedData())
}

func TestRequiredActionBookedCallsBookTool(t *testing.T) {
	f := New("conv-1", nil, nil)
	f.state = StateBooked
	f.collectedData["services"] = []string{"Corte"}
	f.collectedData["stylist_id"] = "s1"
	f.collectedData["slot"] = map[string]any{"start_time": "2026-08-10T10:00:00Z"}
	f.collectedData["first_name"] = "Lucía"

	action := f.RequiredAction()
	require.Equal(t, ActionCallTools, action.Type)
	require.Len(t, action.ToolCalls, 1)
	assert.Equal(t, "book", action.ToolCalls[0].Name)
}

func TestFromSnapshotFallsBackOnUnknownState(t *testing.T) {
	snap := state.Snapshot{State: "NOT_A_REAL_STATE", CollectedData: nil}
	f := FromSnapshot("conv-1", snap, nil, nil)
	assert.Equal(t, StateIdle, f.State())
	assert.Empty(t, f.CollectedData())
}

func TestReturnToSlotSelectionClearsSlotAndPendingChange(t *testing.T) {
	f := New("conv-1", nil, nil)
	f.state = StateConfirmation
	f.collectedData["services"] = []string{"Corte"}
	f.collectedData["stylist_id"] = "s1"
	f.collectedData["slot"] = map[string]any{"start_time": "2026-08-10T10:00:00Z"}
	f.collectedData["pending_stylist_change"] = true
	f.collectedData["pending_slot"] = map[string]any{"start_time": "2026-08-10T11:00:00Z"}

	f.ReturnToSlotSelection()

	assert.Equal(t, StateSlotSelection, f.State())
	assert.NotContains(t, f.collectedData, "slot")
	assert.NotContains(t, f.collectedData, "pending_slot")
	assert.NotContains(t, f.collectedData, "pending_stylist_change")
	assert.Equal(t, []string{"Corte"}, f.collectedData["services"], "services survive a slot race")
}

func TestInjectCustomerIDReachesCollectedData(t *testing.T) {
	f := New("conv-1", nil, nil)
	f.InjectCustomerID("cust-9")
	assert.Equal(t, "cust-9", f.collectedData["customer_id"])

	// CollectedData hands out copies; writes to them must not leak in.
	f.CollectedData()["customer_id"] = "tampered"
	assert.Equal(t, "cust-9", f.collectedData["customer_id"])

	f.InjectCustomerID("")
	assert.Equal(t, "cust-9", f.collectedData["customer_id"], "blank id must not clobber a known customer")
}

func TestSlotFreshnessPopsStaleSlot(t *testing.T) {
	snap := state.Snapshot{State: string(StateConfirmation), CollectedData: map[string]any{
		"services": []any{"Corte"},
		"slot":     map[string]any{"start_time": time.Now().Add(24 * time.Hour).Format(time.RFC3339)},
	}}
	f := FromSnapshot("conv-1", snap, nil, nil)
	assert.Equal(t, StateSlotSelection, f.State())
	assert.NotContains(t, f.collectedData, "slot")
}

func TestSlotFreshnessPopsUnreadableSlots(t *testing.T) {
	cases := []struct {
		name string
		slot any
	}{
		{"not a map", "viernes a las 10"},
		{"missing start_time", map[string]any{"duration_minutes": float64(30)}},
		{"unparseable start_time", map[string]any{"start_time": "mañana por la tarde"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := state.Snapshot{State: string(StateCustomerData), CollectedData: map[string]any{
				"services": []any{"Corte"},
				"slot":     tc.slot,
			}}
			f := FromSnapshot("conv-1", snap, nil, nil)
			assert.Equal(t, StateSlotSelection, f.State())
			assert.NotContains(t, f.collectedData, "slot")
			assert.Contains(t, f.collectedData, "services", "only the slot is popped")
		})
	}
}

func TestSlotFreshnessKeepsFarSlotAndEarlyStates(t *testing.T) {
	farSlot := map[string]any{"start_time": time.Now().Add(10 * 24 * time.Hour).Format(time.RFC3339)}
	snap := state.Snapshot{State: string(StateConfirmation), CollectedData: map[string]any{"slot": farSlot}}
	f := FromSnapshot("conv-1", snap, nil, nil)
	assert.Equal(t, StateConfirmation, f.State())
	assert.Contains(t, f.collectedData, "slot")

	// Early states never hold a live slot choice; even garbage is left alone.
	snap = state.Snapshot{State: string(StateServiceSelection), CollectedData: map[string]any{"slot": "garbage"}}
	f = FromSnapshot("conv-1", snap, nil, nil)
	assert.Equal(t, StateServiceSelection, f.State())
}
