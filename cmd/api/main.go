package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-sender-api/internal/config"
	"github.com/go-sender-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-sender-api/internal/infrastructure/jwt"
	"github.com/go-sender-api/internal/infrastructure/ses"
	"github.com/go-sender-api/internal/infrastructure/sns"
	transporthttp "github.com/go-sender-api/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap the DynamoDB table (creates it if it doesn't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTable, cfg.TenantIndex)

	// SES verification provider.
	verifier, err := ses.NewVerifier(cfg)
	if err != nil {
		log.Fatalf("ses verifier: %v", err)
	}

	// Every sender and domain route resolves the tenant from JWT claims, so
	// an instance without keys could never serve a request. Refuse to start.
	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("jwt provider: %v", err)
	}

	// SNS event publisher (optional — graceful fallback).
	var events transporthttp.EventPublisher
	if pub, err := sns.NewPublisher(cfg); err == nil {
		events = pub
	} else {
		log.Printf("WARN: SNS publisher not available: %v", err)
	}

	deps := &transporthttp.Deps{
		SenderRepo:          dynamo.NewSenderRepo(dynamoClient, cfg.DynamoTable, cfg.TenantIndex, cfg.StoreTimeout),
		DomainRepo:          dynamo.NewDomainRepo(dynamoClient, cfg.DynamoTable, cfg.StoreTimeout),
		Verifier:            verifier,
		Events:              events,
		JWTProvider:         jwtProvider,
		VerificationTimeout: cfg.VerificationTimeout,
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
