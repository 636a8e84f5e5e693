// Package slotvalidate implements the two-layer slot gate the FSM consults
// before committing a selected start time:
// structural sanity, then business-hours/holiday/freshness policy.
package slotvalidate

import (
	"context"
	"fmt"
	"time"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// MinDaysAhead is the minimum lead time a newly selected slot must clear,
// matching the freshness rule the FSM re-applies on every snapshot load.
const MinDaysAhead = 3

// HoursSource answers the two policy questions the validator needs:
// whether a weekday has an opening window, and whether a calendar date is
// a declared holiday. Backed by the database in production, by a fixed
// map in tests.
type HoursSource interface {
	BusinessHoursFor(ctx context.Context, day time.Weekday) (state.BusinessHours, bool, error)
	IsHoliday(ctx context.Context, day time.Time) (bool, error)
}

// Validator implements fsm.SlotValidator.
type Validator struct {
	hours    HoursSource
	location *time.Location
}

// New builds a Validator. loc is the salon's local timezone (Europe/Madrid
// in production); policy dates and the freshness tie-break are evaluated
// in it.
func New(hours HoursSource, loc *time.Location) *Validator {
	if loc == nil {
		loc = time.UTC
	}
	return &Validator{hours: hours, location: loc}
}

// ValidateComplete runs both layers against slot, the raw entity map the
// FSM extracted from the user's message (or resolved against
// slots_shown). It never panics on a malformed map; every field access is
// defensive since slot arrives from classifier output.
func (v *Validator) ValidateComplete(ctx context.Context, slot map[string]any) (bool, string, error) {
	startTime, ok := structuralStartTime(slot)
	if !ok {
		return false, "No entendí bien la fecha y hora. ¿Puedes indicarme el día y la hora exacta?", nil
	}

	if startTime.Hour() == 0 && startTime.Minute() == 0 {
		return false, "Necesito una hora concreta para la cita, no solo el día. ¿A qué hora te viene bien?", nil
	}

	if rawDuration, present := slot["duration_minutes"]; present {
		duration, ok := asInt(rawDuration)
		if !ok || duration < 0 {
			return false, "La duración del servicio no es válida.", nil
		}
	}

	local := startTime.In(v.location)
	nowLocal := time.Now().In(v.location)
	if daysUntil(nowLocal, local) < MinDaysAhead {
		return false, "Ese horario está demasiado próximo; necesitamos al menos 3 días de antelación para confirmarlo. ¿Buscamos otra fecha?", nil
	}

	if v.hours != nil {
		hours, found, err := v.hours.BusinessHoursFor(ctx, local.Weekday())
		if err != nil {
			return false, "", fmt.Errorf("slotvalidate: business hours lookup: %w", err)
		}
		if !found || hours.Closed {
			return false, "Ese día el salón permanece cerrado. ¿Probamos con otro día?", nil
		}
		withinHours, err := withinBusinessHours(local, hours)
		if err != nil {
			return false, "", fmt.Errorf("slotvalidate: parse business hours: %w", err)
		}
		if !withinHours {
			return false, "Esa hora está fuera de nuestro horario de atención. ¿Te viene bien otro horario?", nil
		}

		holiday, err := v.hours.IsHoliday(ctx, local)
		if err != nil {
			return false, "", fmt.Errorf("slotvalidate: holiday lookup: %w", err)
		}
		if holiday {
			return false, "Ese día es festivo en el salón. ¿Buscamos otra fecha?", nil
		}
	}

	return true, "", nil
}

// structuralStartTime extracts and parses the slot's start time, trying
// the two field names the FSM's slot shape can carry depending on whether
// it was resolved from slots_shown (full_datetime) or supplied directly
// (start_time).
func structuralStartTime(slot map[string]any) (time.Time, bool) {
	for _, key := range []string{"start_time", "full_datetime"} {
		raw, ok := slot[key].(string)
		if !ok || raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	}
	return 0, false
}

// daysUntil counts full calendar days between two local-zone timestamps,
// truncating both to midnight first so a slot "3 days from now" at any
// time of day still counts as exactly 3. The local dates are compared as
// UTC dates so a DST change in between does not shorten the count. (The
// FSM's own freshness check counts elapsed 24h periods instead.)
func daysUntil(from, to time.Time) int {
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(toDay.Sub(fromDay).Hours() / 24)
}

func withinBusinessHours(t time.Time, hours state.BusinessHours) (bool, error) {
	start, err := time.ParseInLocation("15:04", hours.Start, t.Location())
	if err != nil {
		return false, fmt.Errorf("parse start %q: %w", hours.Start, err)
	}
	end, err := time.ParseInLocation("15:04", hours.End, t.Location())
	if err != nil {
		return false, fmt.Errorf("parse end %q: %w", hours.End, err)
	}
	minutesOfDay := t.Hour()*60 + t.Minute()
	startMinutes := start.Hour()*60 + start.Minute()
	endMinutes := end.Hour()*60 + end.Minute()
	return minutesOfDay >= startMinutes && minutesOfDay < endMinutes, nil
}
