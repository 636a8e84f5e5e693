package fsm

// guidanceByState is the static response guidance per state: what a reply
// from this state must show or ask, what it must never say, and, in
// RequiredToolCall, the tool the turn must invoke — set only for
// StateBooked ("book").
var guidanceByState = map[State]Guidance{
	StateIdle: {
		ContextHint: "greeting or open question, no booking in progress",
		Forbidden:   []string{"cita reservada", "cita confirmada"},
	},
	StateServiceSelection: {
		MustAsk:     "qué servicio desea",
		ContextHint: "listing or narrowing the service catalog",
		Forbidden:   []string{"cita reservada", "tu cita ha sido confirmada"},
	},
	StateStylistSelection: {
		MustShow:    []string{"stylists"},
		MustAsk:     "con qué estilista",
		ContextHint: "choosing among available stylists",
		Forbidden:   []string{"cita reservada", "tu cita ha sido confirmada"},
	},
	StateSlotSelection: {
		MustShow:    []string{"available slots"},
		MustAsk:     "qué horario prefiere",
		ContextHint: "choosing a start time from options already shown",
		Forbidden:   []string{"cita reservada", "tu cita ha sido confirmada"},
	},
	StateCustomerData: {
		ContextHint: "collecting the name on the booking and any notes",
		Forbidden:   []string{"cita reservada", "tu cita ha sido confirmada"},
	},
	StateConfirmation: {
		MustShow:    []string{"services", "stylist", "date_time", "customer_name"},
		MustAsk:     "confirmas la reserva",
		ContextHint: "final summary before committing the booking",
		Forbidden:   []string{"cita reservada", "tu cita ha sido confirmada", "ya he reservado"},
	},
	StateBooked: {
		MustShow:         []string{"friendly_date", "stylist_name", "service_names"},
		ContextHint:      "the booking tool has just run; confirm using its result, never invent one",
		RequiredToolCall: "book",
	},
}

// ResponseGuidance reports the constraints the formatter and output guard
// must enforce for the conversation's current state. It is
// the FSM's half of the hallucination defense: a reply claiming a booking
// exists is only legitimate if RequiredToolCall (or its absence) lines up
// with what the tool executor actually ran this turn.
func (f *FSM) ResponseGuidance() Guidance {
	g := guidanceByState[f.state]
	return g
}
