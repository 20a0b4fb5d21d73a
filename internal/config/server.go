package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	detectionHandler "ImageClassifier/internal/api/detection/handler"
	detectionRepository "ImageClassifier/internal/api/detection/repository"
	detectionService "ImageClassifier/internal/api/detection/service"
	"ImageClassifier/internal/middleware"
	"ImageClassifier/pkg/annotator"
	"ImageClassifier/pkg/detector"
	"ImageClassifier/pkg/postgres"
	"ImageClassifier/pkg/redis"
	"ImageClassifier/pkg/s3"
	"ImageClassifier/pkg/utils"
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
	detector    detector.Detector
	annotator   annotator.IAnnotator
	redisServer redis.IRedis
	s3Client    s3.ItfS3

	serviceConfig  detectionService.Config
	requestTimeout time.Duration
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
	if server.detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if server.validator == nil {
		server.validator = NewValidator()
	}
	if server.utils == nil {
		server.utils = utils.New(0)
	}
	if server.middleware == nil {
		server.middleware = middleware.New(server.log, middleware.Config{})
	}
	if server.annotator == nil {
		ann, err := annotator.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create annotator: %w", err)
		}
		server.annotator = ann
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

func WithMiddleware(cfg RateLimitConfig) ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log, middleware.Config{
			RequestsPerSecond: cfg.RPS,
			Burst:             cfg.Burst,
		})
		return nil
	}
}

func WithUtils(maxUploadSize int64) ServerOption {
	return func(s *Server) error {
		s.utils = utils.New(maxUploadSize)
		return nil
	}
}

func WithDetector(d detector.Detector) ServerOption {
	return func(s *Server) error {
		s.detector = d
		return nil
	}
}

func WithAnnotator(cfg AnnotatorConfig) ServerOption {
	return func(s *Server) error {
		ann, err := annotator.New(
			annotator.WithLineWidth(cfg.LineWidth),
			annotator.WithFontSize(cfg.FontSize),
		)
		if err != nil {
			return fmt.Errorf("failed to create annotator: %w", err)
		}
		s.annotator = ann
		return nil
	}
}

func WithServiceConfig(cfg DetectorConfig, archive ArchiveConfig, requestTimeout time.Duration) ServerOption {
	return func(s *Server) error {
		s.serviceConfig = detectionService.Config{
			Threshold:   cfg.Threshold,
			JPEGQuality: cfg.JPEGQuality,
			CacheTTL:    archive.CacheTTL,
		}
		s.requestTimeout = requestTimeout
		return nil
	}
}

func WithDatabase(cfg DatabaseConfig) ServerOption {
	return func(s *Server) error {
		db, err := postgres.New(s.log, postgres.Config{
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			DBName:          cfg.Name,
			SSLMode:         cfg.SSLMode,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to connect to database: %v", err)
			}
			return fmt.Errorf("failed to create database connection: %w", err)
		}
		if err := postgres.RunMigrations(s.log, db); err != nil {
			db.Close()
			return err
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

func WithS3Client(cfg AWSConfig) ServerOption {
	return func(s *Server) error {
		client, err := s3.New(s3.Config{
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Bucket:          cfg.BucketName,
			Endpoint:        cfg.Endpoint,
		})
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to initialize S3 client: %v", err)
			}
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		s.s3Client = client
		return nil
	}
}

func (s *Server) RegisterHandler() {
	var opts []detectionService.Option
	if s.db != nil {
		opts = append(opts, detectionService.WithArchive(detectionRepository.New(s.db, s.log)))
		if s.redisServer != nil {
			opts = append(opts, detectionService.WithCache(s.redisServer))
		}
		if s.s3Client != nil {
			opts = append(opts, detectionService.WithStorage(s.s3Client))
		}
	}

	detectionServices := detectionService.NewDetectionService(s.log, s.detector, s.annotator, s.utils, s.serviceConfig, opts...)
	detectionHandlers := detectionHandler.New(s.log, s.validator, s.middleware, detectionServices, s.utils, s.requestTimeout)

	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())
	s.engine.Use(s.middleware.NewRateLimiter)

	s.setupHealthCheck()
	s.handlers = append(s.handlers, detectionHandlers)

	for _, h := range s.handlers {
		h.Start(s.engine)
	}
}

func (s *Server) App() *fiber.App {
	return s.engine
}

func (s *Server) Run(address string) error {
	s.log.WithField("address", address).Info("Starting HTTP server")
	return s.engine.Listen(address)
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx is
// done and releases the detector and archive clients.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.engine.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := s.detector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}
	if s.redisServer != nil {
		if err := s.redisServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"message": "Server is Healthy!",
		})
	})
}
