package fsm

import (
	"encoding/json"
	"time"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// ToSnapshot captures the FSM into the checkpoint shape persisted by the
// state store between turns.
func (f *FSM) ToSnapshot() state.Snapshot {
	return state.Snapshot{
		State:         string(f.state),
		CollectedData: f.CollectedData(),
		LastUpdated:   now(),
	}
}

// FromSnapshot rebuilds an FSM from a checkpoint. It never fails outright:
// a corrupted or unrecognized snapshot degrades to a fresh FSM rather than
// blocking the conversation, through two independent fallbacks:
//   - an unrecognized state string falls back to StateIdle
//   - a nil collected_data falls back to {}
//
// last_updated is not read here (ToSnapshot stamps a fresh one). The slot
// freshness check then runs on the rebuilt FSM.
func FromSnapshot(conversationID string, snap state.Snapshot, names CustomerNameLoader, slots SlotValidator) *FSM {
	f := New(conversationID, names, slots)

	if isValidState(State(snap.State)) {
		f.state = State(snap.State)
	} else {
		f.state = StateIdle
	}

	if snap.CollectedData != nil {
		f.collectedData = snap.CollectedData
	} else {
		f.collectedData = map[string]any{}
	}

	applySlotFreshness(f)

	return f
}

func isValidState(s State) bool {
	switch s {
	case StateIdle, StateServiceSelection, StateStylistSelection, StateSlotSelection,
		StateCustomerData, StateConfirmation, StateBooked:
		return true
	}
	return false
}

// applySlotFreshness implements the freshness/"3-day rule": a slot held
// in collected_data that is now less than 3 full days away is considered
// stale (availability may have shifted since it was shown) and is popped,
// sending the conversation back to slot selection — but only once past
// the point a slot would have been chosen; IDLE, SERVICE_SELECTION and
// STYLIST_SELECTION never hold a stale-enough slot to matter.
func applySlotFreshness(f *FSM) {
	if f.state == StateIdle || f.state == StateServiceSelection || f.state == StateStylistSelection {
		return
	}
	slotVal, ok := f.collectedData["slot"]
	if !ok {
		return
	}
	pop := func() {
		delete(f.collectedData, "slot")
		f.state = StateSlotSelection
	}
	// A slot that cannot be read is as unusable as a stale one: malformed,
	// missing start_time and unparseable start_time each pop it rather
	// than letting a corrupt checkpoint march on to CONFIRMATION.
	slot, ok := slotFromMap(slotVal)
	if !ok {
		pop()
		return
	}
	raw := slot.resolvedStart()
	if raw == "" {
		pop()
		return
	}
	slotTime, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		pop()
		return
	}
	daysUntil := int(time.Until(slotTime).Hours() / 24)
	if daysUntil < 3 {
		pop()
	}
}

// snapshotToJSON/snapshotFromJSON let a Snapshot round-trip through the
// state store's JSON checkpoint encoding without a bespoke serializer.
// snapshotFromJSON falls back to StateIdle, an empty collected_data and
// now() for an unknown state, nil data and a zero last_updated, and
// returns a fresh IDLE snapshot alongside the error on a decode failure.
func snapshotToJSON(s state.Snapshot) ([]byte, error) { return json.Marshal(s) }

func snapshotFromJSON(b []byte) (state.Snapshot, error) {
	var s state.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return state.Snapshot{State: string(StateIdle), CollectedData: map[string]any{}, LastUpdated: now()}, err
	}
	if s.CollectedData == nil {
		s.CollectedData = map[string]any{}
	}
	if !isValidState(State(s.State)) {
		s.State = string(StateIdle)
	}
	if s.LastUpdated.IsZero() {
		s.LastUpdated = now()
	}
	return s, nil
}
