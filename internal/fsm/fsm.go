package fsm

import (
	"context"
	"fmt"
)

// transitions maps each state to the intents it accepts and the state
// each one lands in. Entries that map a state to itself are self-loops
// that accumulate data without advancing the flow.
var transitions = map[State]map[IntentType]State{
	StateIdle: {
		IntentStartBooking: StateServiceSelection,
	},
	StateServiceSelection: {
		IntentSelectService:   StateServiceSelection,
		IntentConfirmServices: StateStylistSelection,
		IntentSelectStylist:   StateStylistSelection,
	},
	StateStylistSelection: {
		IntentSelectStylist: StateSlotSelection,
	},
	StateSlotSelection: {
		IntentSelectSlot:           StateCustomerData,
		IntentCheckAvailability:    StateSlotSelection,
		IntentConfirmStylistChange: StateCustomerData,
	},
	StateCustomerData: {
		IntentProvideCustomerData:      StateCustomerData,
		IntentUseCustomerName:          StateCustomerData,
		IntentProvideThirdPartyBooking: StateCustomerData,
		IntentConfirmName:              StateCustomerData,
		IntentCorrectName:              StateCustomerData,
	},
	StateConfirmation: {
		IntentConfirmBooking: StateBooked,
	},
	StateBooked: {
		IntentStartBooking: StateServiceSelection,
	},
}

type transitionKey struct {
	state  State
	intent IntentType
}

// transitionRequirements lists the collected_data keys that must be
// present (and non-empty) for a transition to be allowed, beyond the
// existence of the transition itself.
var transitionRequirements = map[transitionKey][]string{
	{StateServiceSelection, IntentConfirmServices}: {"services"},
	{StateServiceSelection, IntentSelectStylist}:   {"services", "stylist_id"},
	{StateStylistSelection, IntentSelectStylist}:   {"stylist_id"},
	{StateSlotSelection, IntentSelectSlot}:         {"slot"},
	{StateCustomerData, IntentProvideCustomerData}: {},
	{StateConfirmation, IntentConfirmBooking}:      {"services", "stylist_id", "slot", "first_name"},
}

// CustomerNameLoader loads and persists a customer's name, used by the
// CUSTOMER_DATA use-customer-name and correct-name sub-phases.
type CustomerNameLoader interface {
	LoadName(ctx context.Context, customerID string) (firstName string, lastName string, found bool, err error)
	UpdateName(ctx context.Context, customerID, firstName, lastName string) error
}

// SlotValidator gates a selected slot against catalog/calendar rules
// (closed days, the freshness window, stylist availability) before the
// FSM commits to it. Implemented by the slot-validation component.
type SlotValidator interface {
	ValidateComplete(ctx context.Context, slot map[string]any) (valid bool, errMessage string, err error)
}

// FSM is the per-conversation booking state machine. It is not safe for
// concurrent use; callers serialize access per conversation (the
// orchestrator does this by processing one turn per conversation at a time).
type FSM struct {
	conversationID string
	state          State
	collectedData  map[string]any
	names          CustomerNameLoader
	slots          SlotValidator
}

// New builds an FSM starting in StateIdle for the given conversation.
func New(conversationID string, names CustomerNameLoader, slots SlotValidator) *FSM {
	return &FSM{
		conversationID: conversationID,
		state:          StateIdle,
		collectedData:  map[string]any{},
		names:          names,
		slots:          slots,
	}
}

func (f *FSM) ConversationID() string { return f.conversationID }
func (f *FSM) State() State           { return f.state }

// CollectedData returns a shallow copy of the accumulated booking data.
func (f *FSM) CollectedData() map[string]any {
	out := make(map[string]any, len(f.collectedData))
	for k, v := range f.collectedData {
		out[k] = v
	}
	return out
}

// InjectCustomerID stores the persistent customer reference in
// collected_data so the book tool commits against the right row. The
// orchestrator calls this on every turn for a known customer;
// CollectedData hands out copies, so this is the only write path in.
func (f *FSM) InjectCustomerID(id string) {
	if id == "" {
		return
	}
	f.collectedData["customer_id"] = id
}

// CanTransition reports whether intent is accepted from the current
// state with the data that would be in play after merging intent.Entities.
func (f *FSM) CanTransition(intent Intent) bool {
	if intent.Type == IntentCancelBooking {
		return true
	}
	if _, ok := transitions[f.state][intent.Type]; !ok {
		return false
	}
	requirements := transitionRequirements[transitionKey{f.state, intent.Type}]
	merged := mergedView(f.collectedData, intent.Entities)
	for _, field := range requirements {
		if !present(merged, field) {
			return false
		}
	}
	return true
}

func present(data map[string]any, key string) bool {
	v, ok := data[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}

func mergedView(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// validationErrors mirrors _get_validation_errors: explains why a
// transition was rejected, either because it doesn't exist from this
// state or because required fields are missing/empty.
func (f *FSM) validationErrors(intent Intent) []string {
	var errs []string
	if _, ok := transitions[f.state][intent.Type]; !ok {
		return []string{fmt.Sprintf("transition '%s' not allowed from state '%s'", intent.Type, f.state)}
	}
	requirements := transitionRequirements[transitionKey{f.state, intent.Type}]
	merged := mergedView(f.collectedData, intent.Entities)
	for _, field := range requirements {
		v, ok := merged[field]
		if !ok || v == nil {
			errs = append(errs, fmt.Sprintf("missing required field: '%s'", field))
			continue
		}
		if !present(merged, field) {
			errs = append(errs, fmt.Sprintf("empty required field: '%s'", field))
		}
	}
	return errs
}

// nextAction is a short machine-readable label describing what the
// orchestrator should do next; distinct from the prescriptive Action
// returned by RequiredAction, which also carries tool calls and templates.
var nextActionByState = map[State]string{
	StateIdle:             "greet_or_start_booking",
	StateServiceSelection: "show_services",
	StateStylistSelection: "show_stylists",
	StateSlotSelection:    "show_available_slots",
	StateCustomerData:     "collect_customer_info",
	StateConfirmation:     "show_booking_summary",
	StateBooked:           "execute_booking",
}

func (f *FSM) nextAction() string {
	if a, ok := nextActionByState[f.state]; ok {
		return a
	}
	return "unknown"
}

// mergeEntities accumulates intent.Entities into collected_data. Services
// accumulate into a deduplicated list rather than being overwritten; while
// in CUSTOMER_DATA the notes_asked flag is never trusted from the
// classifier and is instead derived from whether a name was already on
// file, to avoid the LLM prematurely marking notes as asked.
func (f *FSM) mergeEntities(entities map[string]any) {
	if f.state == StateCustomerData {
		hasExistingName := present(f.collectedData, "first_name")
		_, incomingHasName := entities["first_name"]
		filtered := make(map[string]any, len(entities))
		for k, v := range entities {
			if k == "notes_asked" {
				continue
			}
			filtered[k] = v
		}
		entities = filtered

		if hasExistingName {
			f.collectedData["notes_asked"] = true
		} else if incomingHasName {
			// Phase 1: name just arrived; notes_asked stays false until
			// the next turn confirms it was asked.
		}
	}

	for key, value := range entities {
		if key == "services" {
			incoming, ok := asStringSlice(value)
			if !ok {
				f.collectedData[key] = value
				continue
			}
			existing, _ := asStringSlice(f.collectedData["services"])
			seen := make(map[string]bool, len(existing))
			for _, s := range existing {
				seen[s] = true
			}
			for _, s := range incoming {
				s = trimSpace(s)
				if s == "" || seen[s] {
					continue
				}
				existing = append(existing, s)
				seen[s] = true
			}
			f.collectedData["services"] = existing
			continue
		}
		f.collectedData[key] = value
	}
}

func asStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// Transition validates and, if accepted, applies intent to the FSM. See
// the per-branch comments for the special cases: CANCEL_BOOKING resets
// unconditionally, CONFIRM_STYLIST_CHANGE applies a pending slot swap,
// SELECT_SLOT resolves a bare slot_time and gates through SlotValidator,
// CUSTOMER_DATA runs its own five-way sub-phase dispatch, and both
// SLOT_SELECTION-entry and BOOKED-exit carry their own data resets.
func (f *FSM) Transition(ctx context.Context, intent Intent) (Result, error) {
	fromState := f.state

	if intent.Type == IntentCancelBooking {
		f.state = StateIdle
		f.collectedData = map[string]any{}
		return Result{
			Success:       true,
			NewState:      f.state,
			CollectedData: f.CollectedData(),
			NextAction:    "booking_cancelled",
		}, nil
	}

	if !f.CanTransition(intent) {
		return Result{
			Success:          false,
			NewState:         f.state,
			CollectedData:    f.CollectedData(),
			NextAction:       "invalid_transition",
			ValidationErrors: f.validationErrors(intent),
		}, nil
	}

	if f.state == StateSlotSelection && intent.Type == IntentConfirmStylistChange {
		pendingSlot, hasSlot := f.collectedData["pending_slot"]
		pendingStylistID, hasStylist := f.collectedData["pending_stylist_id"]
		if hasSlot && hasStylist {
			f.collectedData["stylist_id"] = pendingStylistID
			f.collectedData["stylist_name"] = f.collectedData["pending_stylist_name"]
			f.collectedData["slot"] = pendingSlot
			delete(f.collectedData, "pending_stylist_change")
			delete(f.collectedData, "pending_slot")
			delete(f.collectedData, "pending_stylist_id")
			delete(f.collectedData, "pending_stylist_name")
		}
	}

	if f.state == StateSlotSelection && intent.Type == IntentSelectSlot {
		slot, ok := entitySlot(intent)
		if ok {
			resolveSlotTime(slot, f.collectedData)

			slotStylistID, _ := slot["stylist_id"].(string)
			currentStylistID, _ := f.collectedData["stylist_id"].(string)
			if slotStylistID != "" && currentStylistID != "" && slotStylistID != currentStylistID {
				f.collectedData["pending_stylist_change"] = true
				f.collectedData["pending_slot"] = slot
				f.collectedData["pending_stylist_id"] = slotStylistID
				name, _ := slot["stylist_name"].(string)
				if name == "" {
					name, _ = slot["stylist"].(string)
				}
				f.collectedData["pending_stylist_name"] = name
				return Result{
					Success:       true,
					NewState:      StateSlotSelection,
					CollectedData: f.CollectedData(),
					NextAction:    "confirm_stylist_change",
				}, nil
			}

			if f.slots != nil {
				valid, errMessage, err := f.slots.ValidateComplete(ctx, slot)
				if err != nil {
					return Result{}, fmt.Errorf("fsm: validate slot: %w", err)
				}
				if !valid {
					if errMessage == "" {
						errMessage = "Slot inválido"
					}
					return Result{
						Success:          false,
						NewState:         f.state,
						CollectedData:    f.CollectedData(),
						NextAction:       "invalid_transition",
						ValidationErrors: []string{errMessage},
					}, nil
				}
			}
		}
	}

	toState := transitions[f.state][intent.Type]

	f.mergeEntities(intent.Entities)

	if fromState == StateSlotSelection && intent.Type == IntentCheckAvailability && toState == StateSlotSelection {
		f.collectedData["date_preference_requested"] = true
	}

	if fromState == StateCustomerData {
		toState = f.applyCustomerDataSubPhase(ctx, intent, toState)
	}

	if fromState == StateStylistSelection && toState == StateSlotSelection {
		f.collectedData["date_preference_requested"] = false
	}

	if fromState == StateBooked && intent.Type == IntentStartBooking && toState == StateServiceSelection {
		customerID := f.collectedData["customer_id"]
		f.collectedData = map[string]any{}
		if customerID != nil {
			f.collectedData["customer_id"] = customerID
		}
	}

	f.state = toState

	return Result{
		Success:       true,
		NewState:      f.state,
		CollectedData: f.CollectedData(),
		NextAction:    f.nextAction(),
	}, nil
}

func entitySlot(intent Intent) (map[string]any, bool) {
	v, ok := intent.Entities["slot"]
	if !ok {
		return nil, false
	}
	slot, ok := v.(map[string]any)
	return slot, ok
}

// resolveSlotTime handles "a las 10:30"-style replies where the
// classifier only extracted a bare time: it cross-references slots_shown
// (the options most recently presented) to recover the full start_time.
func resolveSlotTime(slot map[string]any, collectedData map[string]any) {
	slotTime, hasSlotTime := slot["slot_time"].(string)
	_, hasStartTime := slot["start_time"]
	if !hasSlotTime || hasStartTime {
		return
	}
	shown, _ := collectedData["slots_shown"].([]map[string]any)
	for _, s := range shown {
		if t, _ := s["time"].(string); t == slotTime {
			slot["start_time"] = s["full_datetime"]
			delete(slot, "slot_time")
			return
		}
	}
}

// applyCustomerDataSubPhase dispatches the CUSTOMER_DATA self-loop intents
// (USE_CUSTOMER_NAME, CONFIRM_NAME, CORRECT_NAME,
// PROVIDE_THIRD_PARTY_BOOKING, PROVIDE_CUSTOMER_DATA) and returns the
// state the FSM should land in: CUSTOMER_DATA for every sub-phase except
// the final PROVIDE_CUSTOMER_DATA once both a name and the notes question
// have been satisfied, which advances to CONFIRMATION.
func (f *FSM) applyCustomerDataSubPhase(ctx context.Context, intent Intent, defaultTarget State) State {
	useCustomerName, _ := f.collectedData["use_customer_name"].(bool)
	nameConfirmationPending, _ := f.collectedData["name_confirmation_pending"].(bool)

	switch intent.Type {
	case IntentUseCustomerName:
		if useCustomerName {
			return StateCustomerData
		}
		customerID, _ := f.collectedData["customer_id"].(string)
		if customerID != "" && f.names != nil {
			firstName, lastName, found, err := f.names.LoadName(ctx, customerID)
			if err == nil && found {
				f.collectedData["customer_first_name"] = firstName
				f.collectedData["customer_last_name"] = lastName
				f.collectedData["use_customer_name"] = true
				f.collectedData["name_confirmation_pending"] = true
			} else {
				f.collectedData["use_customer_name"] = false
			}
		} else {
			f.collectedData["use_customer_name"] = false
		}
		return StateCustomerData

	case IntentConfirmName:
		if !nameConfirmationPending {
			return defaultTarget
		}
		f.collectedData["first_name"] = f.collectedData["customer_first_name"]
		f.collectedData["last_name"] = f.collectedData["customer_last_name"]
		f.collectedData["appointee_name_confirmed"] = true
		f.collectedData["name_confirmation_pending"] = false
		return StateCustomerData

	case IntentCorrectName:
		if !nameConfirmationPending {
			return defaultTarget
		}
		newFirst, _ := intent.Entities["first_name"].(string)
		newLast, _ := intent.Entities["last_name"].(string)
		if newFirst != "" {
			f.collectedData["first_name"] = newFirst
			f.collectedData["last_name"] = newLast
			f.collectedData["appointee_name_confirmed"] = true
			f.collectedData["name_confirmation_pending"] = false
			if customerID, _ := f.collectedData["customer_id"].(string); customerID != "" && f.names != nil {
				_ = f.names.UpdateName(ctx, customerID, newFirst, newLast)
			}
		}
		return StateCustomerData

	case IntentProvideThirdPartyBooking:
		f.collectedData["use_customer_name"] = false
		return StateCustomerData

	case IntentProvideCustomerData:
		hasFirstNameInIntent, _ := intent.Entities["first_name"].(string)
		hasAppointeeName := present(f.collectedData, "first_name")
		if hasFirstNameInIntent != "" && !hasAppointeeName {
			f.collectedData["appointee_name_confirmed"] = true
			f.collectedData["use_customer_name"] = false
		}
		hasName := present(f.collectedData, "first_name")
		notesAsked, _ := f.collectedData["notes_asked"].(bool)
		if hasName && notesAsked {
			return StateConfirmation
		}
		return StateCustomerData

	default:
		return defaultTarget
	}
}

// Reset returns the FSM to StateIdle and clears all collected data.
func (f *FSM) Reset() {
	f.state = StateIdle
	f.collectedData = map[string]any{}
}

// ReturnToSlotSelection drops the chosen slot (and any pending stylist
// change tied to it) and moves the flow back to StateSlotSelection. Called
// when a concurrent booking takes the slot between selection and commit.
func (f *FSM) ReturnToSlotSelection() {
	delete(f.collectedData, "slot")
	delete(f.collectedData, "pending_slot")
	delete(f.collectedData, "pending_stylist_change")
	delete(f.collectedData, "pending_stylist_id")
	delete(f.collectedData, "pending_stylist_name")
	f.state = StateSlotSelection
}
