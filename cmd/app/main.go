package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"ImageClassifier/internal/config"
	"ImageClassifier/pkg/detector"
	"ImageClassifier/pkg/gemini"
	"ImageClassifier/pkg/log"
	"ImageClassifier/pkg/redis"
	websocketPkg "ImageClassifier/pkg/websocket"
)

func main() {
	// .env is optional, real environment variables win.
	envErr := godotenv.Load()

	validate := config.NewValidator()
	v, err := config.LoadConfig()
	if err != nil {
		log.NewLogger().Fatalf("Error loading config: %v", err)
	}
	cfg, err := config.ParseConfig(v, validate)
	if err != nil {
		log.NewLogger().Fatalf("Error parsing config: %v", err)
	}

	logger := log.NewLogger(log.WithLevel(cfg.Log.Level), log.WithDir(cfg.Log.Dir))
	if envErr != nil {
		logger.Debugf("No .env file loaded: %v", envErr)
	}

	det, err := newDetector(logger, cfg)
	if err != nil {
		logger.Fatalf("Error loading detector: %v", err)
	}

	options := []config.ServerOption{
		config.WithFiber(config.NewFiber(logger, cfg.App)),
		config.WithLogger(logger),
		config.WithValidator(validate),
		config.WithMiddleware(cfg.RateLimit),
		config.WithUtils(cfg.App.MaxUploadSize),
		config.WithDetector(det),
		config.WithAnnotator(cfg.Annotator),
		config.WithServiceConfig(cfg.Detector, cfg.Archive, cfg.App.RequestTimeout),
	}
	if cfg.Archive.Enabled {
		options = append(options, config.WithDatabase(cfg.DB))
		if cfg.Redis.Address != "" {
			options = append(options, config.WithRedisServer(redis.New(logger, redis.Config{
				Address:  cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})))
		}
		if cfg.AWS.BucketName != "" {
			options = append(options, config.WithS3Client(cfg.AWS))
		}
	}

	server, err := config.NewServer(options...)
	if err != nil {
		det.Close()
		logger.Fatal(err)
	}

	server.RegisterHandler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(cfg.App.Address()); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	logger.WithFields(logrus.Fields{
		"address": cfg.App.Address(),
		"backend": cfg.Detector.Backend,
		"archive": cfg.Archive.Enabled,
	}).Info("Server started successfully")

	<-sigChan
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
}

func newDetector(logger *logrus.Logger, cfg *config.AppConfig) (detector.Detector, error) {
	switch cfg.Detector.Backend {
	case detector.BackendRemote:
		return websocketPkg.NewRemoteDetector(logger, websocketPkg.Config{
			URL:         cfg.Detector.RemoteURL,
			JPEGQuality: cfg.Detector.JPEGQuality,
			ReadTimeout: cfg.Detector.RemoteTimeout,
		})
	case detector.BackendGemini:
		return gemini.NewGeminiDetector(logger, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			ModelName:   cfg.Gemini.ModelName,
			JPEGQuality: cfg.Detector.JPEGQuality,
		})
	default:
		classes, err := detector.LoadClassFile(cfg.Detector.ClassesPath)
		if err != nil {
			return nil, err
		}
		return detector.NewONNXDetector(logger, detector.ONNXConfig{
			ModelPath:         cfg.Detector.ModelPath,
			SharedLibraryPath: cfg.Detector.SharedLibraryPath,
			Classes:           classes,
			InputSize:         cfg.Detector.InputSize,
			PoolSize:          cfg.Detector.PoolSize,
			IntraOpThreads:    cfg.Detector.IntraOpThreads,
			IoUThreshold:      cfg.Detector.IoUThreshold,
		})
	}
}
