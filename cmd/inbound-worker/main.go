// Command inbound-worker polls incoming_messages, drives one orchestrator
// turn per message, and publishes the reply to outgoing_messages for the
// outbound worker to deliver.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pepeccz/atrevete-orchestrator/internal/breaker"
	"github.com/pepeccz/atrevete-orchestrator/internal/calendarclient"
	"github.com/pepeccz/atrevete-orchestrator/internal/catalog"
	"github.com/pepeccz/atrevete-orchestrator/internal/config"
	"github.com/pepeccz/atrevete-orchestrator/internal/db"
	"github.com/pepeccz/atrevete-orchestrator/internal/events"
	"github.com/pepeccz/atrevete-orchestrator/internal/formatter"
	"github.com/pepeccz/atrevete-orchestrator/internal/fsm"
	"github.com/pepeccz/atrevete-orchestrator/internal/handler"
	"github.com/pepeccz/atrevete-orchestrator/internal/intent"
	"github.com/pepeccz/atrevete-orchestrator/internal/llm"
	"github.com/pepeccz/atrevete-orchestrator/internal/messagingclient"
	"github.com/pepeccz/atrevete-orchestrator/internal/notify"
	"github.com/pepeccz/atrevete-orchestrator/internal/observability/metrics"
	"github.com/pepeccz/atrevete-orchestrator/internal/orchestrator"
	"github.com/pepeccz/atrevete-orchestrator/internal/pubsub"
	"github.com/pepeccz/atrevete-orchestrator/internal/slotvalidate"
	"github.com/pepeccz/atrevete-orchestrator/internal/statestore"
	"github.com/pepeccz/atrevete-orchestrator/internal/tools"
	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel).Component("inbound-worker")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" || cfg.RedisURL == "" || cfg.ConversationQueueURL == "" || cfg.OutboundQueueURL == "" {
		logger.Error("inbound worker requires DATABASE_URL, REDIS_URL, INBOUND_QUEUE_URL and OUTBOUND_QUEUE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to parse REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis not available", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWSEndpointOverride != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointOverride)
		}
	})
	inboundQueue := pubsub.NewSQSQueue(sqsClient, cfg.ConversationQueueURL)
	outboundQueue := pubsub.NewSQSQueue(sqsClient, cfg.OutboundQueueURL)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("unknown TIMEZONE, falling back to UTC", "timezone", cfg.Timezone)
		loc = time.UTC
	}

	bedrockBreaker := breaker.Get("bedrock", breaker.Config{
		FailMax: cfg.BreakerFailMax, ResetTimeout: cfg.BreakerResetTimeout,
	}, logger.Logger)
	bedrockRuntime := bedrockruntime.NewFromConfig(awsCfg)
	llmClient := llm.New(bedrockRuntime, bedrockBreaker)

	calendarBreaker := breaker.Get("calendar", breaker.Config{
		FailMax: cfg.BreakerFailMax, ResetTimeout: cfg.BreakerResetTimeout,
	}, logger.Logger)
	calendarAPI, err := calendarclient.NewServiceAPI(ctx, []byte(cfg.GoogleServiceAccountJSON))
	if err != nil {
		logger.Error("failed to build Google Calendar client", "error", err)
		os.Exit(1)
	}
	calendarClient := calendarclient.New(calendarAPI, calendarBreaker)

	chatwootBreaker := breaker.Get("chatwoot", breaker.Config{
		FailMax: cfg.BreakerFailMax, ResetTimeout: cfg.BreakerResetTimeout,
	}, logger.Logger)
	_ = chatwootBreaker // Chatwoot client shapes its own retry/backoff; see messagingclient.New below.
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
	serviceRepo := db.NewServiceRepo(pool)
	hoursRepo := db.NewHoursRepo(pool)
	policyRepo := db.NewPolicyRepo(pool)
	appointmentRepo := db.NewAppointmentRepo(pool)
	notificationRepo := db.NewNotificationRepo(pool)

	var emailSender notify.EmailSender = notify.NewStubEmailSender(logger)
	if ses := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), cfg.SESFromEmail, cfg.SESFromName, logger); ses != nil {
		emailSender = ses
	}
	notifier := notify.NewService(notificationRepo, emailSender, cfg.AdminEmails, logger)

	resolver := catalog.New(serviceRepo)
	slotValidator := slotvalidate.New(hoursRepo, loc)

	eventsRecorder := events.NewRecorder(pool)
	outboxStore := events.NewOutboxStore(pool)

	toolRegistry := tools.New(tools.Config{
		Resolver: resolver, Services: serviceRepo, Stylists: stylistRepo,
		Hours: hoursRepo, Policies: policyRepo, Customers: customerRepo,
		Appointments: appointmentRepo, Calendar: calendarClient, Messaging: messagingCli,
		Notifier: notifier, Events: eventsRecorder, Metrics: reg, Logger: logger, Location: loc,
		SiteName: cfg.SiteName, SiteURL: cfg.SiteURL,
	})

	classifier := intent.New(llmClient, cfg.BedrockModelID, cfg.IntentConfidenceTau)
	bookingHandler := handler.NewBookingHandler(toolRegistry, llmClient, cfg.BedrockModelID)
	nonBookingHandler := handler.New(handler.Config{
		Completer: llmClient, Executor: toolRegistry, Appointments: appointmentRepo,
		Stylists: stylistRepo, Calendar: calendarClient, Notifier: notifier,
		Model: cfg.BedrockModelID, Location: loc, Logger: logger,
	})

	store := statestore.New(redisClient, cfg.StateTTL)
	dedupeStore := events.NewInboundDedupeStore(pool)

	orch := orchestrator.New(orchestrator.Config{
		Store: store, Classifier: classifier, BookingHandler: bookingHandler,
		NonBookingHandler: nonBookingHandler, Escalator: notifier, Metrics: reg,
		Names: customerRepo, Slots: slotValidator, Logger: logger,
		MessageWindowSize: cfg.MessageWindowSize, AutoEscalateAfter: cfg.AutoEscalateAfter,
	})

	worker := pubsub.NewInboundWorker(inboundQueue, outboundQueue, orch, logger,
		pubsub.WithDeduper(dedupeStore),
		pubsub.WithEvents(eventsRecorder),
		pubsub.WithOutbox(outboxStore))

	deliverer := events.NewDeliverer(outboxStore, &outboundDeliveryHandler{queue: outboundQueue}, logger)

	go worker.Run(ctx)
	go deliverer.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("inbound worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}

// outboundDeliveryHandler drains message-sent rows the outbox's publish
// attempt failed on and republishes them to the outbound queue. Every
// other canonical event type is already terminal once recorded (audit
// rows for a received message or an auto-cancellation need no further
// delivery), so it is acknowledged without action.
type outboundDeliveryHandler struct {
	queue pubsub.Queue
}

func (h *outboundDeliveryHandler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.EventType != (events.MessageSentV1{}).EventType() {
		return nil
	}
	var evt events.MessageSentV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		return fmt.Errorf("inbound-worker: decode outbox payload: %w", err)
	}
	body, err := json.Marshal(pubsub.OutboundMessage{
		ConversationID: evt.ConversationID,
		CustomerPhone:  evt.CustomerPhone,
		Message:        evt.Message,
	})
	if err != nil {
		return fmt.Errorf("inbound-worker: encode outbound message: %w", err)
	}
	return h.queue.Send(ctx, string(body))
}

var _ fsm.CustomerNameLoader = (*db.CustomerRepo)(nil)
var _ formatter.Completer = (*llm.Client)(nil)
