package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/backstage/services/iotcore/internal/api"
	"example.com/backstage/services/iotcore/internal/core"
	"example.com/backstage/services/iotcore/internal/gateway"
	"example.com/backstage/services/iotcore/internal/infrastructure"
	"example.com/backstage/services/iotcore/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the IoT Core API server",
	Long:  `Launches the HTTP server and the MQTT ingestion pipeline for accounts, devices, and telemetry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() error {
	logger.Info("Initializing IoT Core Service...")

	// --- Infrastructure Setup ---
	logger.Info("Connecting to database...")
	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	logger.Info("Connecting to cache...")
	cache, err := infrastructure.NewCache(cfg.Redis)
	if err != nil {
		logger.Warn("Cache unavailable, continuing without it")
		cache = nil
	} else {
		defer cache.Close()
	}

	var messaging *infrastructure.Messaging
	if cfg.ServiceBus.ConnectionString != "" {
		logger.Info("Connecting to messaging service...")
		messaging, err = infrastructure.NewMessaging(cfg.ServiceBus)
		if err != nil {
			logger.Warn("Messaging service unavailable, continuing without it")
			messaging = nil
		} else {
			defer messaging.Close()
		}
	}

	// --- Gateway Setup ---
	httpClient := &http.Client{Timeout: cfg.Gateways.RequestTimeout}
	signer := gateway.NewEncryptionSigner(httpClient, cfg.Gateways.EncServiceHost)
	registry := gateway.NewMDMSRoleRegistry(httpClient, cfg.Gateways.MDMSHost, cfg.Gateways.RolesModuleName)
	idgen := gateway.NewIDGenClient(httpClient, cfg.Gateways.IDGenHost, cfg.Gateways.IDGenFormat)
	mailer := gateway.NewSMTPMailer(cfg.SMTP)

	// --- Service Layer Setup ---
	repo := core.NewRepository(db.DB)
	tenantID := cfg.Gateways.TenantID
	tokens := core.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	var forwarder core.TelemetryForwarder
	if messaging != nil {
		forwarder = messaging
	}

	// The broker is built before the telemetry service so the service can
	// publish commands through it; messages only flow after Start below.
	var telemetry *core.TelemetryService
	var broker *infrastructure.MQTTBroker
	if cfg.MQTT != nil && cfg.MQTT.BrokerURL != "" {
		broker, err = infrastructure.NewMQTTBroker(*cfg.MQTT, func(ctx context.Context, topic string, payload []byte) error {
			return telemetry.HandleBrokerMessage(ctx, topic, payload)
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create MQTT broker connection: %w", err)
		}
	}

	var publisher core.CommandPublisher
	if broker != nil {
		publisher = broker
	}
	telemetry = core.NewTelemetryService(repo, forwarder, publisher, logger, tenantID)

	if broker != nil {
		if err := broker.Start(); err != nil {
			logger.WithError(err).Warn("MQTT broker unavailable, continuing without ingestion")
			broker = nil
		} else {
			defer broker.Stop()
		}
	}

	var deviceCache core.DeviceCache
	if cache != nil {
		deviceCache = cache
	}

	services := &core.Services{
		Auth:         core.NewAuthService(repo, tokens, signer, registry, idgen, mailer, logger, tenantID),
		Accounts:     core.NewAccountService(repo, signer, idgen, mailer, utils.GeneratePassword, logger, tenantID),
		Telemetry:    telemetry,
		Registry:     core.NewRegistryService(repo, deviceCache, logger, tenantID),
		Subscription: core.NewSubscriptionService(repo, idgen, logger, tenantID),
		Tokens:       tokens,
	}

	// --- API Layer Setup ---
	router := gin.New()
	router.Use(gin.Recovery())

	handlers := api.NewAPIHandlers(services)
	api.SetupRoutes(router, handlers, services, logger)

	// --- HTTP Server ---
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful Shutdown ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Infof("IoT Core API listening on %s", serverAddr)
		logger.Info("Service started successfully")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-shutdownChan

	logger.Warn("Shutdown signal received, initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	} else {
		logger.Info("Server stopped gracefully")
	}

	logger.Info("IoT Core Service shutdown complete")
	return nil
}
