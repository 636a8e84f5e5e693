package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// HoursRepo reads business hours and holiday declarations, implementing
// slotvalidate.HoursSource.
type HoursRepo struct {
	exec execer
}

// NewHoursRepo builds a repository backed by pool.
func NewHoursRepo(pool execer) *HoursRepo {
	return &HoursRepo{exec: pool}
}

// BusinessHoursFor implements slotvalidate.HoursSource.
func (r *HoursRepo) BusinessHoursFor(ctx context.Context, day time.Weekday) (state.BusinessHours, bool, error) {
	const query = `
		SELECT day_of_week, start_time, end_time, closed
		FROM business_hours
		WHERE day_of_week = $1
	`
	var h state.BusinessHours
	err := r.exec.QueryRow(ctx, query, int(day)).Scan(&h.DayOfWeek, &h.Start, &h.End, &h.Closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state.BusinessHours{}, false, nil
		}
		return state.BusinessHours{}, false, fmt.Errorf("db: load business hours: %w", err)
	}
	return h, true, nil
}

// IsHoliday implements slotvalidate.HoursSource.
func (r *HoursRepo) IsHoliday(ctx context.Context, day time.Time) (bool, error) {
	const query = `SELECT 1 FROM holidays WHERE holiday_date = $1`
	var exists int
	err := r.exec.QueryRow(ctx, query, day.Format("2006-01-02")).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("db: check holiday: %w", err)
	}
	return true, nil
}
