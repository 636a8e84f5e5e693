package fsm

import "fmt"

// RequiredAction is the v5.0 prescriptive step: it determines exactly
// what the turn must do based on FSM state alone, so tool selection is
// never left to the model. The booking handler calls this once a
// transition succeeds and feeds the result straight to the tool executor
// and response formatter.
func (f *FSM) RequiredAction() Action {
	var a Action
	switch f.state {
	case StateIdle:
		a = f.actionIdle()
	case StateServiceSelection:
		a = f.actionServiceSelection()
	case StateStylistSelection:
		a = f.actionStylistSelection()
	case StateSlotSelection:
		a = f.actionSlotSelection()
	case StateCustomerData:
		a = f.actionCustomerData()
	case StateConfirmation:
		a = f.actionConfirmation()
	case StateBooked:
		a = f.actionBooked()
	default:
		return Action{Type: ActionNone}
	}
	validated, err := NewAction(a)
	if err != nil {
		// A malformed prescription is a programmer error in one of the
		// builders below, not a user-facing failure; fail safe to a
		// no-op so the turn doesn't panic.
		return Action{Type: ActionNone}
	}
	return validated
}

func (f *FSM) actionIdle() Action {
	return Action{
		Type: ActionGenerateResponse,
		ResponseTemplate: "¡Hola! Soy Maite, tu asistente virtual del salón. " +
			"¿En qué puedo ayudarte hoy? Puedo ayudarte a reservar una cita, " +
			"consultar nuestros servicios, horarios, o cualquier duda que tengas.",
		AllowLLMCreativity: true,
	}
}

func (f *FSM) actionServiceSelection() Action {
	services, _ := asStringSlice(f.collectedData["services"])
	if len(services) == 0 {
		query, _ := f.collectedData["service_query"].(string)
		if query == "" {
			query = "servicios"
		}
		return Action{
			Type: ActionCallTools,
			ToolCalls: []ToolCall{
				{Name: "search_services", Args: map[string]any{"query": query, "max_results": 10}, Required: true},
			},
			ResponseTemplate: "¡Perfecto! Estos son algunos de nuestros servicios:\n\n" +
				"{{range $i, $s := .services}}{{inc $i}}. {{$s.name}}{{if $s.duration_minutes}} ({{$s.duration_minutes}} min){{end}}\n{{end}}\n" +
				"¿Cuál te gustaría? Puedes decirme el número o el nombre del servicio.",
			TemplateVars:       map[string]any{"services": []any{}},
			AllowLLMCreativity: true,
		}
	}
	return Action{
		Type: ActionGenerateResponse,
		ResponseTemplate: "Perfecto, tienes seleccionados: {{join .services \", \"}}.\n\n" +
			"¿Quieres agregar otro servicio o continuamos con estos?",
		TemplateVars:       map[string]any{"services": services},
		AllowLLMCreativity: true,
	}
}

func (f *FSM) actionStylistSelection() Action {
	category, _ := f.collectedData["service_category"].(string)
	if category == "" {
		category = "HAIRDRESSING"
	}
	return Action{
		Type: ActionCallTools,
		ToolCalls: []ToolCall{
			{Name: "list_stylists", Args: map[string]any{"category": category}, Required: true},
		},
		ResponseTemplate: "Nuestros estilistas disponibles son:\n\n" +
			"{{range $i, $st := .stylists}}{{inc $i}}. {{$st.name}}\n{{end}}\n" +
			"¿Con quién te gustaría la cita? Si no tienes preferencia, " +
			"puedo buscar disponibilidad con cualquiera de ellos.",
		AllowLLMCreativity: true,
	}
}

func (f *FSM) actionSlotSelection() Action {
	pendingChange, _ := f.collectedData["pending_stylist_change"].(bool)
	if pendingChange {
		pendingName, _ := f.collectedData["pending_stylist_name"].(string)
		if pendingName == "" {
			pendingName = "otro estilista"
		}
		currentName, _ := f.collectedData["stylist_name"].(string)
		if currentName == "" {
			currentName = "el estilista original"
		}
		pendingSlot, _ := f.collectedData["pending_slot"].(map[string]any)
		slotTime, _ := pendingSlot["time"].(string)
		slotDate, _ := pendingSlot["date"].(string)
		return Action{
			Type: ActionGenerateResponse,
			ResponseTemplate: fmt.Sprintf(
				"El hueco más próximo es el %s a las %s, pero sería con %s en lugar de %s.\n\n¿Te parece bien?",
				slotDate, slotTime, pendingName, currentName,
			),
			AllowLLMCreativity: true,
		}
	}

	stylistID, _ := f.collectedData["stylist_id"].(string)
	totalDuration, ok := f.collectedData["total_duration_minutes"].(int)
	if !ok {
		totalDuration = 60
	}
	category, _ := f.collectedData["service_category"].(string)
	if category == "" {
		category = "HAIRDRESSING"
	}
	preferredDate, _ := f.collectedData["date"].(string)

	return Action{
		Type: ActionCallTools,
		ToolCalls: []ToolCall{
			{
				Name: "find_next_available",
				Args: map[string]any{
					"service_category":         category,
					"stylist_id":               stylistID,
					"max_days_to_search":       10,
					"start_date":               preferredDate,
					"service_duration_minutes": totalDuration,
				},
				Required: true,
			},
		},
		ResponseTemplate: "Aquí están los horarios disponibles:\n\n" +
			"{{if .soonest_any}}1. ⚡ {{.soonest_any.day_name}} {{.soonest_any.date}} a las {{.soonest_any.time}} " +
			"(con {{.soonest_any.stylist_name}}) - PRÓXIMO DISPONIBLE\n{{end}}" +
			"{{range $i, $s := .selected_stylist_slots}}{{inc2 $i}}. {{$s.day_name}} {{$s.date}} a las {{$s.time}} (con {{$s.stylist}})\n{{end}}\n" +
			"{{if .soonest_any_is_different_stylist}}ℹ️ La opción 1 es con otro estilista. Si la eliges, te pediré confirmación.\n\n{{end}}" +
			"¿Cuál prefieres? Puedes decirme el número.\n\n" +
			"Si prefieres buscar otro día que te venga mejor, solo dímelo.",
		TemplateVars:       map[string]any{"soonest_any": nil, "selected_stylist_slots": []any{}},
		AllowLLMCreativity: true,
	}
}

func (f *FSM) actionCustomerData() Action {
	firstName, _ := f.collectedData["first_name"].(string)
	notesAsked, _ := f.collectedData["notes_asked"].(bool)

	if firstName == "" {
		return Action{
			Type:               ActionGenerateResponse,
			ResponseTemplate:   "¿A qué nombre y apellidos agendo la reserva?",
			AllowLLMCreativity: true,
		}
	}
	if !notesAsked {
		return Action{
			Type: ActionGenerateResponse,
			ResponseTemplate: "Perfecto, {{.first_name}}. " +
				"¿Tienes alguna preferencia o nota especial para tu cita? " +
				"(Por ejemplo, alergias, preferencias de estilo, etc.). Si no, podemos continuar.",
			TemplateVars:       map[string]any{"first_name": firstName},
			AllowLLMCreativity: true,
		}
	}
	return Action{
		Type:               ActionGenerateResponse,
		ResponseTemplate:   "Perfecto, tengo todos tus datos. Vamos a confirmar la cita.",
		AllowLLMCreativity: true,
	}
}

func (f *FSM) actionConfirmation() Action {
	services, _ := asStringSlice(f.collectedData["services"])
	slot, _ := slotFromMap(f.collectedData["slot"])
	firstName, _ := f.collectedData["first_name"].(string)
	lastName, _ := f.collectedData["last_name"].(string)
	notes, _ := f.collectedData["notes"].(string)

	stylistName := slot.Stylist
	if stylistName == "" {
		stylistName, _ = f.collectedData["stylist_name"].(string)
	}
	if stylistName == "" {
		stylistName = "Por asignar"
	}

	if notes == "" {
		notes = "Ninguna"
	}

	return Action{
		Type: ActionGenerateResponse,
		ResponseTemplate: "Perfecto, aquí está el resumen de tu cita:\n\n" +
			"📅 Servicios: {{.services}}\n" +
			"💇 Estilista: {{.stylist_name}}\n" +
			"🕐 Fecha y hora: {{.date_time}}\n" +
			"👤 Nombre: {{.customer_name}}\n" +
			"📝 Notas: {{.notes}}\n\n" +
			"¿Confirmas la reserva?",
		TemplateVars: map[string]any{
			"services":      joinStrings(services, ", "),
			"stylist_name":  stylistName,
			"date_time":     slot.resolvedStart(),
			"customer_name": joinStrings([]string{firstName, lastName}, " "),
			"notes":         notes,
		},
		AllowLLMCreativity: true,
	}
}

// actionBooked is the only state where the FSM mandates the booking tool
// itself — every earlier state only shows options or collects data.
func (f *FSM) actionBooked() Action {
	services, _ := asStringSlice(f.collectedData["services"])
	stylistID, _ := f.collectedData["stylist_id"].(string)
	slot, _ := slotFromMap(f.collectedData["slot"])
	firstName, _ := f.collectedData["first_name"].(string)
	lastName, _ := f.collectedData["last_name"].(string)
	notes, _ := f.collectedData["notes"].(string)
	customerID, _ := f.collectedData["customer_id"].(string)

	return Action{
		Type: ActionCallTools,
		ToolCalls: []ToolCall{
			{
				Name: "book",
				Args: map[string]any{
					"customer_id":      customerID,
					"first_name":       firstName,
					"last_name":        lastName,
					"notes":            notes,
					"services":         services,
					"stylist_id":       stylistID,
					"start_time":       slot.resolvedStart(),
					"conversation_id":  f.conversationID,
				},
				Required: true,
			},
		},
		ResponseTemplate: "✅ ¡Listo! Tu cita ha sido confirmada.\n\n" +
			"📅 Fecha: {{.friendly_date}}\n" +
			"💇 Estilista: {{.stylist_name}}\n" +
			"✨ Servicios: {{.service_names}}\n\n" +
			"📍 Dirección: {{.salon_address}}\n\n" +
			"📲 Añade la cita a tu calendario:\n{{.calendar_link}}\n\n" +
			"Te esperamos en el salón. Si necesitas modificar o cancelar, no dudes en escribirnos.\n\n" +
			"¿Hay algo más en lo que pueda ayudarte?",
		TemplateVars:       map[string]any{},
		AllowLLMCreativity: true,
	}
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += sep
		}
		out += p
		_ = i
	}
	return out
}
