package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// slotGranularity is the stylist calendar's candidate-start-time step:
// appointments are offered in 30-minute increments.
const slotGranularity = 30 * time.Minute

// sameDayMinLead is how close to "now" a same-day slot may start.
const sameDayMinLead = time.Hour

// maxSlotsPerTool bounds how many slots each stylist contributes for one
// day, and how many selected-stylist slots find_next_available returns;
// check_availability over several stylists can return up to this many
// per stylist.
const maxSlotsPerTool = 4

type candidateSlot struct {
	Start      time.Time
	StylistID  string
	StylistName string
}

// checkAvailability implements the check_availability tool: single-day
// availability for one stylist or, absent a stylist_id, every active
// stylist in the category.
func (r *Registry) checkAvailability(ctx context.Context, args Args) (Result, error) {
	category := state.ServiceCategory(str(args, "category"))
	if category == "" {
		category = state.ServiceCategory(str(args, "service_category"))
	}
	dateStr := str(args, "date")
	stylistID := str(args, "stylist_id")
	duration := intArg(args, "service_duration_minutes", 60)

	day, err := time.ParseInLocation("2006-01-02", dateStr, r.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("tools: check_availability: invalid date %q: %w", dateStr, err)
	}

	holiday, err := r.cfg.Hours.IsHoliday(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("tools: check_availability: holiday lookup: %w", err)
	}

	now := time.Now().In(r.cfg.Location)
	isSameDay := day.Year() == now.Year() && day.YearDay() == now.YearDay()

	if holiday {
		return Result{"available_slots": []map[string]any{}, "is_same_day": isSameDay, "holiday_detected": true}, nil
	}

	stylists, err := r.candidateStylists(ctx, category, stylistID)
	if err != nil {
		return nil, err
	}

	var all []candidateSlot
	for _, st := range stylists {
		slots, err := r.daySlots(ctx, st, day, time.Duration(duration)*time.Minute, now)
		if err != nil {
			return nil, err
		}
		all = append(all, slots...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })

	out := make([]map[string]any, 0, len(all))
	for _, s := range all {
		out = append(out, slotToMap(s))
	}
	return Result{"available_slots": out, "is_same_day": isSameDay, "holiday_detected": false}, nil
}

// findNextAvailable implements the find_next_available tool: a multi-day
// search that reports both the soonest slot with the conversation's
// currently-selected stylist and the soonest slot across every active
// stylist in the category ("soonest-any").
func (r *Registry) findNextAvailable(ctx context.Context, args Args) (Result, error) {
	category := state.ServiceCategory(str(args, "service_category"))
	if category == "" {
		category = state.CategoryHairdressing
	}
	stylistID := str(args, "stylist_id")
	duration := time.Duration(intArg(args, "service_duration_minutes", 60)) * time.Minute
	maxDays := intArg(args, "max_days_to_search", 10)
	if maxDays <= 0 {
		maxDays = 10
	}

	now := time.Now().In(r.cfg.Location)
	startDate := now
	if raw := str(args, "start_date"); raw != "" {
		if parsed, err := time.ParseInLocation("2006-01-02", raw, r.cfg.Location); err == nil {
			startDate = parsed
		}
	}

	allStylists, err := r.cfg.Stylists.ActiveByCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("tools: find_next_available: list stylists: %w", err)
	}

	var selected []state.Stylist
	if stylistID != "" {
		for _, st := range allStylists {
			if st.ID == stylistID {
				selected = []state.Stylist{st}
				break
			}
		}
	}
	if len(selected) == 0 {
		selected = allStylists
	}

	selectedSlots, err := r.searchDays(ctx, selected, category, duration, startDate, maxDays, now)
	if err != nil {
		return nil, err
	}

	allSlots, err := r.searchDays(ctx, allStylists, category, duration, startDate, maxDays, now)
	if err != nil {
		return nil, err
	}

	res := Result{"selected_stylist_slots": toSlotList(selectedSlots, maxSlotsPerTool)}
	if len(allSlots) > 0 {
		soonest := allSlots[0]
		isDifferent := stylistID != "" && soonest.StylistID != stylistID
		res["soonest_any"] = slotToMap(soonest)
		res["soonest_any_is_different_stylist"] = isDifferent
	}
	return res, nil
}

// searchDays walks forward from startDate up to maxDays calendar days,
// collecting every available slot for stylists, sorted soonest-first.
func (r *Registry) searchDays(ctx context.Context, stylists []state.Stylist, category state.ServiceCategory, duration time.Duration, startDate time.Time, maxDays int, now time.Time) ([]candidateSlot, error) {
	var out []candidateSlot
	for i := 0; i < maxDays; i++ {
		day := startDate.AddDate(0, 0, i)
		holiday, err := r.cfg.Hours.IsHoliday(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("tools: search_days: holiday lookup: %w", err)
		}
		if holiday {
			continue
		}
		for _, st := range stylists {
			slots, err := r.daySlots(ctx, st, day, duration, now)
			if err != nil {
				return nil, err
			}
			out = append(out, slots...)
		}
		if len(out) >= maxSlotsPerTool*len(stylists) {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// daySlots generates every bookable [start, start+duration) window for
// one stylist on one calendar day: stepping by slotGranularity across the
// weekday's business hours, dropping anything that overlaps a busy
// calendar event or, for today, starts within sameDayMinLead.
func (r *Registry) daySlots(ctx context.Context, st state.Stylist, day time.Time, duration time.Duration, now time.Time) ([]candidateSlot, error) {
	hours, found, err := r.cfg.Hours.BusinessHoursFor(ctx, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("tools: day_slots: business hours: %w", err)
	}
	if !found || hours.Closed {
		return nil, nil
	}

	start, err := time.ParseInLocation("15:04", hours.Start, r.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("tools: day_slots: parse start: %w", err)
	}
	end, err := time.ParseInLocation("15:04", hours.End, r.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("tools: day_slots: parse end: %w", err)
	}

	dayOpen := time.Date(day.Year(), day.Month(), day.Day(), start.Hour(), start.Minute(), 0, 0, r.cfg.Location)
	dayClose := time.Date(day.Year(), day.Month(), day.Day(), end.Hour(), end.Minute(), 0, 0, r.cfg.Location)

	var busy []candidateInterval
	if r.cfg.Calendar != nil && st.CalendarID != "" {
		intervals, err := r.cfg.Calendar.ListBusy(ctx, st.CalendarID, dayOpen, dayClose)
		if err != nil {
			return nil, fmt.Errorf("tools: day_slots: list busy: %w", err)
		}
		for _, b := range intervals {
			busy = append(busy, candidateInterval{start: b.Start, end: b.End})
		}
	}

	isSameDay := day.Year() == now.Year() && day.YearDay() == now.YearDay()

	var out []candidateSlot
	for t := dayOpen; !t.Add(duration).After(dayClose); t = t.Add(slotGranularity) {
		if isSameDay && t.Sub(now) < sameDayMinLead {
			continue
		}
		if t.Before(now) {
			continue
		}
		if overlapsAny(t, t.Add(duration), busy) {
			continue
		}
		out = append(out, candidateSlot{Start: t, StylistID: st.ID, StylistName: st.Name})
		if len(out) >= maxSlotsPerTool {
			break
		}
	}
	return out, nil
}

type candidateInterval struct {
	start, end time.Time
}

func overlapsAny(start, end time.Time, busy []candidateInterval) bool {
	for _, b := range busy {
		if start.Before(b.end) && end.After(b.start) {
			return true
		}
	}
	return false
}

// candidateStylists resolves the stylist set a single-day check should
// run over: the one named stylist if stylistID is set, else every active
// stylist in category.
func (r *Registry) candidateStylists(ctx context.Context, category state.ServiceCategory, stylistID string) ([]state.Stylist, error) {
	if stylistID != "" {
		st, found, err := r.cfg.Stylists.Get(ctx, stylistID)
		if err != nil {
			return nil, fmt.Errorf("tools: load stylist: %w", err)
		}
		if !found {
			return nil, nil
		}
		return []state.Stylist{st}, nil
	}
	stylists, err := r.cfg.Stylists.ActiveByCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("tools: list stylists: %w", err)
	}
	return stylists, nil
}

var weekdayNamesLong = [7]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

func slotToMap(s candidateSlot) map[string]any {
	local := s.Start
	return map[string]any{
		"start_time":    local.Format(time.RFC3339),
		"full_datetime": local.Format(time.RFC3339),
		"date":          local.Format("02/01/2006"),
		"time":          local.Format("15:04"),
		"day_name":      weekdayNamesLong[local.Weekday()],
		"stylist":       s.StylistName,
		"stylist_id":    s.StylistID,
		"stylist_name":  s.StylistName,
	}
}

func toSlotList(slots []candidateSlot, max int) []map[string]any {
	if len(slots) > max {
		slots = slots[:max]
	}
	out := make([]map[string]any, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotToMap(s))
	}
	return out
}
