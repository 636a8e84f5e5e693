// Command outbound-worker polls outgoing_messages and forwards each
// reply to the messaging gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/pepeccz/atrevete-orchestrator/internal/config"
	"github.com/pepeccz/atrevete-orchestrator/internal/messagingclient"
	"github.com/pepeccz/atrevete-orchestrator/internal/pubsub"
	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel).Component("outbound-worker")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OutboundQueueURL == "" || cfg.ChatwootAPIURL == "" {
		logger.Error("outbound worker requires OUTBOUND_QUEUE_URL and CHATWOOT_API_URL")
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
	outboundQueue := pubsub.NewSQSQueue(sqsClient, cfg.OutboundQueueURL)

	messagingCli, err := messagingclient.New(messagingclient.Config{
		BaseURL: cfg.ChatwootAPIURL, APIToken: cfg.ChatwootToken,
		AccountID: cfg.ChatwootAccountID, InboxID: cfg.ChatwootInboxID,
		Logger: logger.Logger,
	})
	if err != nil {
		logger.Error("failed to build Chatwoot client", "error", err)
		os.Exit(1)
	}

	worker := pubsub.NewOutboundWorker(outboundQueue, messagingCli, logger)

	go worker.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("outbound worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
