// Package router implements the intent router: it partitions every
// classifiable intent into the booking set, driven by the prescriptive
// FSM and the Booking Handler, and the non-booking set, driven by the
// conversational Non-Booking Handler. The two sets are fixed and
// disjoint; their union is the full intent enum.
package router

import "github.com/pepeccz/atrevete-orchestrator/internal/fsm"

// BookingIntents is every intent that drives an FSM transition: the nine
// named in the booking flow plus the CUSTOMER_DATA sub-phase intents
// (stylist-change confirmation, using the known customer's name, booking
// for a third party, and the name confirm/correct pair) that the FSM
// itself transitions on.
var BookingIntents = map[fsm.IntentType]bool{
	fsm.IntentStartBooking:            true,
	fsm.IntentSelectService:           true,
	fsm.IntentConfirmServices:         true,
	fsm.IntentSelectStylist:           true,
	fsm.IntentCheckAvailability:       true,
	fsm.IntentSelectSlot:              true,
	fsm.IntentConfirmStylistChange:    true,
	fsm.IntentProvideCustomerData:     true,
	fsm.IntentUseCustomerName:         true,
	fsm.IntentProvideThirdPartyBooking: true,
	fsm.IntentConfirmName:             true,
	fsm.IntentCorrectName:             true,
	fsm.IntentConfirmBooking:          true,
	fsm.IntentCancelBooking:           true,
}

// NonBookingIntents is every intent the conversational handler owns: the
// five core intents plus the appointment confirmation/decline and
// cancellation sub-flows the FSM never transitions on.
var NonBookingIntents = map[fsm.IntentType]bool{
	fsm.IntentGreeting:           true,
	fsm.IntentFAQ:                true,
	fsm.IntentEscalate:           true,
	fsm.IntentUnknown:            true,
	fsm.IntentUpdateName:         true,
	fsm.IntentConfirmAppointment: true,
	fsm.IntentDeclineAppointment: true,
	fsm.IntentInitiateCancellation: true,
	fsm.IntentSelectCancellation:  true,
	fsm.IntentConfirmCancellation: true,
	fsm.IntentAbortCancellation:   true,
	fsm.IntentInsistCancellation:  true,
	fsm.IntentConfirmDecline:      true,
	fsm.IntentAbortDecline:        true,
	fsm.IntentCheckMyAppointments: true,
}

// IsBooking reports whether intent belongs to the booking set. An intent
// in neither set (which the package-level invariant test guarantees
// cannot happen) is treated as non-booking, the conservative choice since
// the conversational handler never mutates FSM state.
func IsBooking(intent fsm.IntentType) bool {
	return BookingIntents[intent]
}
