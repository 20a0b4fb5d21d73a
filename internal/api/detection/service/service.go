package detectionService

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"ImageClassifier/internal/api/detection"
	detectionRepository "ImageClassifier/internal/api/detection/repository"
	"ImageClassifier/pkg/annotator"
	"ImageClassifier/pkg/detector"
	"ImageClassifier/pkg/redis"
	"ImageClassifier/pkg/s3"
	"ImageClassifier/pkg/utils"
)

type IDetectionService interface {
	Classify(ctx context.Context, data []byte) (*detection.DetectionResponse, error)
	GetDetection(ctx context.Context, id string) (*detection.DetectionRecordResponse, error)
}

type Config struct {
	// Threshold is the minimum confidence a detection needs to be reported.
	Threshold   float32
	JPEGQuality int
	CacheTTL    time.Duration
	ImagePrefix string
}

type detectionService struct {
	log       *logrus.Logger
	detector  detector.Detector
	annotator annotator.IAnnotator
	utils     utils.IUtils
	cfg       Config

	repository detectionRepository.Repository
	cache      redis.IRedis
	storage    s3.ItfS3
}

type Option func(*detectionService)

// WithArchive turns on persistence of every classify result.
func WithArchive(repo detectionRepository.Repository) Option {
	return func(s *detectionService) {
		s.repository = repo
	}
}

func WithCache(cache redis.IRedis) Option {
	return func(s *detectionService) {
		s.cache = cache
	}
}

func WithStorage(storage s3.ItfS3) Option {
	return func(s *detectionService) {
		s.storage = storage
	}
}

func NewDetectionService(
	log *logrus.Logger,
	det detector.Detector,
	ann annotator.IAnnotator,
	utils utils.IUtils,
	cfg Config,
	opts ...Option,
) IDetectionService {
	if cfg.Threshold <= 0 {
		cfg.Threshold = detector.DefaultConfidenceThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.ImagePrefix == "" {
		cfg.ImagePrefix = "annotated"
	}

	s := &detectionService{
		log:       log,
		detector:  det,
		annotator: ann,
		utils:     utils,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *detectionService) archiveEnabled() bool {
	return s.repository != nil
}
