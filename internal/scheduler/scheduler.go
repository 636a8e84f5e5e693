// Package scheduler implements the confirmation scheduler: three periodic
// jobs (send confirmations, auto-cancel, send reminders) that sweep the
// appointments table and drive the messaging gateway and calendar. Timing
// is driven by robfig/cron's expression parser; each job run is recorded
// to an in-memory health snapshot (and optionally a health file) so a
// calendar-day job ("daily at 10:00") can be monitored like any other
// periodic sweep.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pepeccz/atrevete-orchestrator/internal/events"
	"github.com/pepeccz/atrevete-orchestrator/internal/observability/metrics"
	"github.com/pepeccz/atrevete-orchestrator/internal/state"
	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

// Appointments is the subset of db.AppointmentRepo the scheduler needs.
type Appointments interface {
	ListConfirmationDue(ctx context.Context, hoursBefore int) ([]state.Appointment, error)
	ListAutoCancelDue(ctx context.Context, hoursBefore int) ([]state.Appointment, error)
	ListReminderDue(ctx context.Context, hoursBefore int) ([]state.Appointment, error)
	MarkConfirmationSent(ctx context.Context, id string) error
	MarkConfirmed(ctx context.Context, id string) error
	MarkCancelled(ctx context.Context, id string) error
	MarkReminderSent(ctx context.Context, id string) error
}

// Customers resolves an appointment's customer_id back to a phone number
// for template delivery.
type Customers interface {
	Get(ctx context.Context, id string) (state.Customer, bool, error)
}

// Stylists resolves a stylist's calendar id for the auto-cancel sweep's
// DeleteEvent call.
type Stylists interface {
	Get(ctx context.Context, id string) (state.Stylist, bool, error)
}

// Messenger sends the three approved templates this scheduler uses.
type Messenger interface {
	SendTemplateMessage(ctx context.Context, phone, templateName string, bodyParams map[string]string, language, category, conversationID string) error
}

// CalendarCanceller deletes a cancelled appointment's calendar event.
type CalendarCanceller interface {
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Notifier records the admin-facing side effects each sweep raises.
type Notifier interface {
	Notify(ctx context.Context, typ state.NotificationType, title, message, entityType, entityID string) error
	AutoCancelled(ctx context.Context, appointmentID, summary string) error
}

// Template names, overridable via Config for environments with different
// WhatsApp template approvals.
const (
	defaultConfirmationTemplate = "appointment_confirmation_48h"
	defaultCancellationTemplate = "appointment_auto_cancelled"
	defaultReminderTemplate     = "appointment_reminder_2h"
)

// Config bundles the scheduler's dependencies and tunables.
type Config struct {
	Appointments Appointments
	Customers    Customers
	Stylists     Stylists
	Messenger    Messenger
	Calendar     CalendarCanceller
	Notifier     Notifier
	Events       *events.Recorder // optional: audits auto-cancellations
	Metrics      *metrics.BookingMetrics
	Logger       *logging.Logger

	Location *time.Location // Europe/Madrid by default

	ConfirmationHoursBefore int // 48; "now+47h..now+48h", see sendConfirmations
	AutoCancelHoursBefore   int // 24
	ReminderHoursBefore     int // 2

	ConfirmationTemplate string
	CancellationTemplate string
	ReminderTemplate     string

	// DailyJobSchedule is the cron expression for jobs 1 and 2 (daily
	// 10:00 by default); ReminderJobSchedule is hourly-on-the-hour for job 3.
	DailyJobSchedule    string
	ReminderJobSchedule string

	// HealthFilePath, if set, receives each job's {last_run, status,
	// processed, errors} record. Empty disables it.
	HealthFilePath string
}

// health is one job's health-check record, written as its own line of a
// JSON object keyed by job name in HealthFilePath.
type health struct {
	LastRun   time.Time `json:"last_run"`
	Status    string    `json:"status"` // "healthy" or "unhealthy"
	Processed int       `json:"processed"`
	Errors    int       `json:"errors"`
}

// Scheduler runs the three confirmation-flow jobs on their configured
// cron schedules.
type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	logger *logging.Logger

	mu     sync.Mutex
	health map[string]health
}

// New builds a Scheduler from cfg, applying the package defaults for
// anything left unset.
func New(cfg Config) *Scheduler {
	if cfg.Location == nil {
		loc, err := time.LoadLocation("Europe/Madrid")
		if err != nil {
			loc = time.UTC
		}
		cfg.Location = loc
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.ConfirmationHoursBefore <= 0 {
		cfg.ConfirmationHoursBefore = 48
	}
	if cfg.AutoCancelHoursBefore <= 0 {
		cfg.AutoCancelHoursBefore = 24
	}
	if cfg.ReminderHoursBefore <= 0 {
		cfg.ReminderHoursBefore = 2
	}
	if cfg.ConfirmationTemplate == "" {
		cfg.ConfirmationTemplate = defaultConfirmationTemplate
	}
	if cfg.CancellationTemplate == "" {
		cfg.CancellationTemplate = defaultCancellationTemplate
	}
	if cfg.ReminderTemplate == "" {
		cfg.ReminderTemplate = defaultReminderTemplate
	}
	if cfg.DailyJobSchedule == "" {
		cfg.DailyJobSchedule = "0 10 * * *"
	}
	if cfg.ReminderJobSchedule == "" {
		cfg.ReminderJobSchedule = "0 * * * *"
	}

	c := cron.New(cron.WithLocation(cfg.Location))
	return &Scheduler{cfg: cfg, cron: c, logger: cfg.Logger, health: make(map[string]health)}
}

// Start registers the three jobs and begins the cron scheduler. It
// returns once registration succeeds; the cron loop itself runs in its
// own goroutine until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.DailyJobSchedule, func() { s.runJob(ctx, "send_confirmations", s.sendConfirmations) }); err != nil {
		return fmt.Errorf("scheduler: register send_confirmations job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.DailyJobSchedule, func() { s.runJob(ctx, "auto_cancel", s.autoCancel) }); err != nil {
		return fmt.Errorf("scheduler: register auto_cancel job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ReminderJobSchedule, func() { s.runJob(ctx, "send_reminders", s.sendReminders) }); err != nil {
		return fmt.Errorf("scheduler: register send_reminders job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("confirmation scheduler started",
		"timezone", s.cfg.Location.String(), "daily_schedule", s.cfg.DailyJobSchedule, "reminder_schedule", s.cfg.ReminderJobSchedule)
	return nil
}

// Stop halts the cron scheduler, waiting for any job in progress to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// jobResult tallies one run for the health record and metrics.
type jobResult struct {
	processed int
	errors    int
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(context.Context) jobResult) {
	start := time.Now()
	result := fn(ctx)
	duration := time.Since(start)

	status := "healthy"
	outcome := "ok"
	if result.errors > 0 {
		status = "unhealthy"
		outcome = "error"
	}
	s.logger.Info("scheduler job finished", "job", name, "processed", result.processed, "errors", result.errors, "duration", duration)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveSchedulerRun(name, outcome)
	}
	s.recordHealth(name, health{LastRun: time.Now().In(s.cfg.Location), Status: status, Processed: result.processed, Errors: result.errors})
}

func (s *Scheduler) recordHealth(name string, h health) {
	s.mu.Lock()
	s.health[name] = h
	snapshot := make(map[string]health, len(s.health))
	for k, v := range s.health {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if s.cfg.HealthFilePath == "" {
		return
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		s.logger.Error("scheduler: failed to encode health record", "error", err)
		return
	}
	if err := os.WriteFile(s.cfg.HealthFilePath, data, 0o644); err != nil {
		s.logger.Error("scheduler: failed to write health file", "error", err, "path", s.cfg.HealthFilePath)
	}
}
