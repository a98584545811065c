package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/taxops/go-clearflow/internal/auth"
	"github.com/taxops/go-clearflow/internal/awsx"
	"github.com/taxops/go-clearflow/internal/config"
	"github.com/taxops/go-clearflow/internal/ingest"
	"github.com/taxops/go-clearflow/internal/masking"
	"github.com/taxops/go-clearflow/internal/metrics"
	"github.com/taxops/go-clearflow/internal/queue"
	"github.com/taxops/go-clearflow/internal/requests"
)

func setupRouter(cfg config.API, clients *awsx.Clients) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ingest.RequestLogger())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.Use(auth.OwnerKeyMiddleware(cfg.OwnerSecret))
	ingest.RegisterClearanceRoutes(r, ingest.HandlerConfig{
		Store:     requests.NewStore(clients.DynamoDB, cfg.RequestsTable, cfg.Retention),
		Publisher: queue.NewPublisher(clients.SQS, cfg.QueueURL),
		Metrics:   metrics.NewPublisher(clients.CloudWatch, "Clearflow"),
		Masker:    masking.New(),
		RetryHint: cfg.RetryHint,
	})

	return r
}

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	clients, err := awsx.NewClients(context.Background(), cfg.Region)
	if err != nil {
		log.Fatalf("init aws clients: %v", err)
	}

	r := setupRouter(cfg, clients)

	// RUN_LOCAL=true runs a plain HTTP server for development.
	if cfg.RunLocal {
		log.Printf("running local server on %s", cfg.LocalAddr)
		if err := r.Run(cfg.LocalAddr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
