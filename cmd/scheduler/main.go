// Command scheduler runs the confirmation scheduler: the 48h-confirmation,
// 24h-auto-cancel, and 2h-reminder sweeps over the appointments table.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pepeccz/atrevete-orchestrator/internal/breaker"
	"github.com/pepeccz/atrevete-orchestrator/internal/calendarclient"
	"github.com/pepeccz/atrevete-orchestrator/internal/config"
	"github.com/pepeccz/atrevete-orchestrator/internal/db"
	"github.com/pepeccz/atrevete-orchestrator/internal/events"
	"github.com/pepeccz/atrevete-orchestrator/internal/messagingclient"
	"github.com/pepeccz/atrevete-orchestrator/internal/notify"
	"github.com/pepeccz/atrevete-orchestrator/internal/observability/metrics"
	"github.com/pepeccz/atrevete-orchestrator/internal/scheduler"
	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel).Component("scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("scheduler requires DATABASE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("unknown TIMEZONE, falling back to UTC", "timezone", cfg.Timezone)
		loc = time.UTC
	}

	calendarBreaker := breaker.Get("calendar", breaker.Config{
		FailMax: cfg.BreakerFailMax, ResetTimeout: cfg.BreakerResetTimeout,
	}, logger.Logger)
	calendarAPI, err := calendarclient.NewServiceAPI(ctx, []byte(cfg.GoogleServiceAccountJSON))
	if err != nil {
		logger.Error("failed to build Google Calendar client", "error", err)
		os.Exit(1)
	}
	calendarClient := calendarclient.New(calendarAPI, calendarBreaker)

	messagingCli, err := messagingclient.New(messagingclient.Config{
		BaseURL: cfg.ChatwootAPIURL, APIToken: cfg.ChatwootToken,
		AccountID: cfg.ChatwootAccountID, InboxID: cfg.ChatwootInboxID,
		Logger: logger.Logger,
	})
	if err != nil {
		logger.Error("failed to build Chatwoot client", "error", err)
		os.Exit(1)
	}

	reg := metrics.NewBookingMetrics(nil)

	customerRepo := db.NewCustomerRepo(pool)
	stylistRepo := db.NewStylistRepo(pool)
	appointmentRepo := db.NewAppointmentRepo(pool)
	notificationRepo := db.NewNotificationRepo(pool)

	var emailSender notify.EmailSender = notify.NewStubEmailSender(logger)
	if cfg.SESFromEmail != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Warn("failed to load AWS config, staff email disabled", "error", err)
		} else if ses := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), cfg.SESFromEmail, cfg.SESFromName, logger); ses != nil {
			emailSender = ses
		}
	}
	notifier := notify.NewService(notificationRepo, emailSender, cfg.AdminEmails, logger)
	eventsRecorder := events.NewRecorder(pool)

	sched := scheduler.New(scheduler.Config{
		Appointments: appointmentRepo,
		Customers:    customerRepo,
		Stylists:     stylistRepo,
		Messenger:    messagingCli,
		Calendar:     calendarClient,
		Notifier:     notifier,
		Events:       eventsRecorder,
		Metrics:      reg,
		Logger:       logger,
		Location:     loc,

		ConfirmationHoursBefore: cfg.ConfirmationHoursBefore,
		AutoCancelHoursBefore:   cfg.AutoCancelHoursBefore,
		ReminderHoursBefore:     cfg.ReminderHoursBefore,

		HealthFilePath: os.Getenv("SCHEDULER_HEALTH_FILE"),
	})

	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("scheduler shutting down")
	sched.Stop()
	cancel()
}
