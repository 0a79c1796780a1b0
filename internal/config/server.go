package config

import (
	"VoiceBridge/database/postgres"
	callHandler "VoiceBridge/internal/api/call/handler"
	callRepository "VoiceBridge/internal/api/call/repository"
	callService "VoiceBridge/internal/api/call/service"
	intentHandler "VoiceBridge/internal/api/intent/handler"
	intentRepository "VoiceBridge/internal/api/intent/repository"
	intentService "VoiceBridge/internal/api/intent/service"
	"VoiceBridge/internal/middleware"
	"VoiceBridge/pkg/openai"
	"VoiceBridge/pkg/redis"
	"VoiceBridge/pkg/s3"
	"VoiceBridge/pkg/utils"
	websocketPkg "VoiceBridge/pkg/websocket"
	"VoiceBridge/pkg/zapier"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type ServerOption func(*Server) error

type Server struct {
	engine      *fiber.App
	db          *sqlx.DB
	log         *logrus.Logger
	middleware  middleware.Middleware
	validator   *validator.Validate
	utils       utils.IUtils
	handlers    []handler
	redisServer redis.IRedis
	s3Client    s3.ItfS3
	callService callService.ICallService
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.db == nil {
		return nil, fmt.Errorf("database is required")
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

// WithDatabase connects to postgres and applies pending migrations unless
// DB_AUTO_MIGRATE is false.
func WithDatabase() ServerOption {
	return func(s *Server) error {
		db, err := postgres.New()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to connect to database: %v", err)
			}
			return fmt.Errorf("failed to create database connection: %w", err)
		}

		if os.Getenv("DB_AUTO_MIGRATE") != "false" {
			if err := postgres.Migrate(db); err != nil {
				_ = db.Close()
				return err
			}
		}

		s.db = db
		return nil
	}
}

func WithRedisServer(redisServer redis.IRedis) ServerOption {
	return func(s *Server) error {
		s.redisServer = redisServer
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log)
		return nil
	}
}

func WithS3Client() ServerOption {
	return func(s *Server) error {
		client, err := s3.New()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to initialize S3 client: %v", err)
			}
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if client == nil && s.log != nil {
			s.log.Info("TRANSCRIPT_BUCKET not set, transcript archiving disabled")
		}
		s.s3Client = client
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func (s *Server) RegisterHandler() {
	// Intent Domain
	intentRepo := intentRepository.New(s.db, s.log)
	intentServices := intentService.NewIntentService(s.log, s.recordStore(), intentRepo, zapier.New(s.log), s.utils,
		intentService.WithDispatchTimeout(envDuration("ZAPIER_TIMEOUT", 30*time.Second)),
	)
	intentHandlers := intentHandler.New(s.log, s.validator, s.middleware, intentServices)

	// Call Domain
	callRepo := callRepository.New(s.db, s.log)
	s.callService = callService.NewCallService(s.log, callRepo,
		openai.NewProvisioner(s.log),
		websocketPkg.NewRealtimeDialer(s.log),
		intentServices,
		s.s3Client,
		s.utils,
		callService.WithAttachTimeout(envDuration("CALL_ATTACH_TIMEOUT", 2*time.Minute)),
	)
	callHandlers := callHandler.New(s.log, s.validator, s.middleware, s.callService)

	s.setupHealthCheck()
	s.handlers = append(s.handlers, intentHandlers, callHandlers)
}

// recordStore shares idempotency records across replicas when redis is on.
func (s *Server) recordStore() intentRepository.IRecordStore {
	if s.redisServer != nil && os.Getenv("USE_REDIS") == "true" {
		return intentRepository.NewRedisRecordStore(s.redisServer, envDuration("IDEMPOTENCY_TTL", 24*time.Hour))
	}
	return intentRepository.NewMemoryRecordStore()
}

func (s *Server) Run() error {
	s.engine.Use(recover.New())
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())
	s.engine.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins(),
		AllowHeaders: "Origin, Content-Type, Accept, X-API-Key, X-Request-ID",
	}))

	s.engine.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	router := s.engine.Group("/api/v1", s.middleware.NewAPIKeyMiddleware)

	for _, h := range s.handlers {
		h.Start(router)
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "3000"
	}

	return s.engine.Listen(fmt.Sprintf(":%s", port))
}

// Shutdown ends live calls first so their final status is written before
// the database goes away.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.callService != nil {
		s.callService.Shutdown(ctx)
	}

	err := s.engine.ShutdownWithContext(ctx)

	if s.db != nil {
		if dbErr := s.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
	}
	return err
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"message": "Server is Healthy!",
		})
	})

	s.engine.Get("/health", func(ctx *fiber.Ctx) error {
		c, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
		defer cancel()

		status := fiber.Map{"database": "ok"}
		code := fiber.StatusOK

		if err := s.db.PingContext(c); err != nil {
			status["database"] = err.Error()
			code = fiber.StatusServiceUnavailable
		}
		if s.redisServer != nil {
			status["redis"] = "ok"
			if err := s.redisServer.Ping(c); err != nil {
				status["redis"] = err.Error()
				code = fiber.StatusServiceUnavailable
			}
		}

		return ctx.Status(code).JSON(status)
	})
}

func corsOrigins() string {
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		return origins
	}
	return "*"
}

// envDuration accepts Go durations ("90s") or plain seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
