package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"golang.org/x/time/rate"

	"github.com/taxops/go-clearflow/internal/awsx"
	"github.com/taxops/go-clearflow/internal/config"
	"github.com/taxops/go-clearflow/internal/metrics"
	"github.com/taxops/go-clearflow/internal/queue"
	"github.com/taxops/go-clearflow/internal/requests"
	"github.com/taxops/go-clearflow/internal/upstream"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	clients, err := awsx.NewClients(ctx, cfg.Region)
	if err != nil {
		log.Fatalf("init aws clients: %v", err)
	}

	store := requests.NewStore(clients.DynamoDB, cfg.RequestsTable, cfg.Retention)
	authority := upstream.New(cfg.AuthorityURL, cfg.AuthorityAPIKey, cfg.UpstreamTimeout)
	proc := NewProcessor(store, authority, metrics.NewPublisher(clients.CloudWatch, "Clearflow"))

	if cfg.RunLocal {
		// long-poll the queue directly instead of running under Lambda
		runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		limiter := rate.NewLimiter(rate.Limit(cfg.UpstreamRate), 1)
		consumer := queue.NewConsumer(clients.SQS, cfg.QueueURL, proc.HandleBody, limiter)
		log.Printf("[worker] consuming %s", cfg.QueueURL)
		if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("consumer: %v", err)
		}
		return
	}

	lambda.Start(proc.Handle)
}
