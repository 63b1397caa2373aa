/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, message brokers, the repository, the core application service, the
 * background release sweeper, and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketvine/settlement-service/internal/api"
	"github.com/marketvine/settlement-service/internal/app"
	"github.com/marketvine/settlement-service/internal/config"
	"github.com/marketvine/settlement-service/internal/domain"
	"github.com/marketvine/settlement-service/internal/store"
	rmrabbit "github.com/marketvine/settlement-service/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for settlement events. A broker outage
	// must not keep the ledger from serving, so we fall back to a no-op producer.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Optional Redis connection for sweep coordination across replicas.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; sweep coordination disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; sweep coordination disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; sweep coordination disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	settlementService := app.NewService(repository, producer, cfg.SettlementEventExchange)

	// Seed the default fee schedules so order ingestion never has to guess a fee.
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSeed()
	seedDefaults := []domain.FeeSchedule{
		{Modality: domain.ModalityD1, Percentage: decimal.NewFromFloat(cfg.D1FeePercent), FixedAmount: decimal.NewFromFloat(cfg.D1FeeFixed)},
		{Modality: domain.ModalityD15, Percentage: decimal.NewFromFloat(cfg.D15FeePercent), FixedAmount: decimal.NewFromFloat(cfg.D15FeeFixed)},
		{Modality: domain.ModalityD30, Percentage: decimal.NewFromFloat(cfg.D30FeePercent), FixedAmount: decimal.NewFromFloat(cfg.D30FeeFixed)},
	}
	if err := settlementService.SeedFeeSchedules(seedCtx, seedDefaults); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"fee schedule seeding failed\" err=%v", err)
	}

	// Initialize the API handlers.
	settlementHandlers := api.NewSettlementHandlers(settlementService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/settlements", api.NewRouter(settlementHandlers, cfg.AdminJWKSURL, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the order ingestion consumer: create a RabbitMQ consumer, bind to
	// order placement events, and ensure graceful shutdown.
	orderConsumer := settlementService.OrderPlacedConsumer()

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; order ingestion limited to http\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		orderBindings := map[string]func([]byte) bool{
			"order.placed": orderConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.OrderEventExchange, cfg.OrderEventQueue, orderBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"order consumer start failed\" err=%v", err)
		}
	}

	// Start the background release sweeper.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()

	var coordinator app.SweepCoordinator
	if redisClient != nil {
		coordinator = app.NewRedisSweepLock(redisClient, cfg.RedisLockPrefix)
	}
	sweeper := app.NewSweeper(settlementService, time.Duration(cfg.ReleaseSweepIntervalSeconds)*time.Second, coordinator)
	go sweeper.Run(sweepCtx)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	cancelSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
