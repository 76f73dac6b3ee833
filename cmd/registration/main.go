package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gartstein/enroll/internal/registration/codes"
	"github.com/gartstein/enroll/internal/registration/controller"
	"github.com/gartstein/enroll/internal/registration/db"
	"github.com/gartstein/enroll/internal/registration/events"
	"github.com/gartstein/enroll/internal/registration/handlers"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config struct for YAML configuration
type Config struct {
	HTTPPort     int      `yaml:"HTTP_PORT"`
	DBHost       string   `yaml:"DB_HOST"`
	DBPort       int      `yaml:"DB_PORT"`
	DBUser       string   `yaml:"DB_USER"`
	DBPassword   string   `yaml:"DB_PASSWORD"`
	DBName       string   `yaml:"DB_NAME"`
	DBSSLMode    string   `yaml:"DB_SSLMODE"`
	KafkaBrokers []string `yaml:"KAFKA_BROKERS"`
	JWTSecret    string   `yaml:"JWT_SECRET"`
	Topic        string   `yaml:"TOPIC"`
}

func main() {
	logger := initLogger()
	defer func(logger *zap.Logger) {
		err := logger.Sync()
		if err != nil {
			logger.Error("failed to sync logger", zap.Error(err))
		}
	}(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	repo, err := db.NewRepository(initDatabase(cfg))
	if err != nil {
		log.Fatal("failed to initialize database", err)
	}

	producer, err := events.NewProducer(cfg.KafkaBrokers, logger, cfg.Topic)
	if err != nil {
		log.Fatal("failed to initialize Kafka producer", err)
	}
	defer producer.Close()

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	auditConsumer := startAuditConsumer(consumerCtx, cfg, logger)
	defer auditConsumer.Close()

	registry := codes.NewRegistry(repo, logger)
	scheduleSvc := controller.NewScheduleService(repo, producer, logger)
	registrationSvc := controller.NewRegistrationService(repo, registry, scheduleSvc, producer, logger)
	adminSvc := controller.NewAdminService(repo, producer, logger)

	handler := handlers.NewHandler(registrationSvc, scheduleSvc, adminSvc, registry, logger)
	router := handlers.NewRouter(handler, cfg.JWTSecret)

	server := handlers.NewServer(cfg.HTTPPort, logger, router)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	waitForShutdown(server, logger)
}

// startAuditConsumer subscribes to the event topic and writes every
// lifecycle event to the log, giving operators a plain audit trail.
func startAuditConsumer(ctx context.Context, cfg *Config, logger *zap.Logger) *events.Consumer {
	consumer := events.NewConsumer(cfg.KafkaBrokers, "registration_audit", cfg.Topic, logger)
	consumer.RegisterHandler(func(_ context.Context, event events.Event) error {
		logger.Info("registration event",
			zap.String("type", string(event.Type)),
			zap.String("key", event.Key),
		)
		return nil
	})
	consumer.Start(ctx)
	return consumer
}

// initLogger initializes a Zap production logger.
func initLogger() *zap.Logger {
	logger, _ := zap.NewProduction()
	return logger
}

// loadConfig loads configuration. Use real config tooling (e.g. Viper) in production.
func loadConfig() (*Config, error) {
	configPath := filepath.Join("internal", "registration", "config", "config.yaml")
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	err = yaml.Unmarshal(file, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// initDatabase initializes the database connection.
func initDatabase(cfg *Config) *db.Config {
	return &db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}
}

// waitForShutdown blocks until an interrupt or SIGTERM is received, then shuts down the server.
func waitForShutdown(server *handlers.Server, logger *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	server.Stop()
	logger.Info("Server stopped properly")
}
