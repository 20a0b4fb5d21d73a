package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"ImageClassifier/pkg/detector"
)

type AppConfig struct {
	App       ServerConfig    `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Annotator AnnotatorConfig `mapstructure:"annotator"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	DB        DatabaseConfig  `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	AWS       AWSConfig       `mapstructure:"aws"`
}

type ServerConfig struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	BodyLimit       int           `mapstructure:"body_limit" validate:"gt=0"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size" validate:"gt=0"`
	// RequestTimeout bounds a classify call. Zero leaves it unbounded.
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

type DetectorConfig struct {
	Backend           string        `mapstructure:"backend" validate:"oneof=onnx remote gemini"`
	Threshold         float32       `mapstructure:"threshold" validate:"gte=0,lte=1"`
	IoUThreshold      float32       `mapstructure:"iou_threshold" validate:"gt=0,lte=1"`
	ModelPath         string        `mapstructure:"model_path"`
	ClassesPath       string        `mapstructure:"classes_path"`
	SharedLibraryPath string        `mapstructure:"shared_library_path"`
	InputSize         int           `mapstructure:"input_size" validate:"gt=0"`
	PoolSize          int           `mapstructure:"pool_size" validate:"gte=0"`
	IntraOpThreads    int           `mapstructure:"intra_op_threads" validate:"gte=0"`
	RemoteURL         string        `mapstructure:"remote_url"`
	RemoteTimeout     time.Duration `mapstructure:"remote_timeout"`
	JPEGQuality       int           `mapstructure:"jpeg_quality" validate:"min=1,max=100"`
}

type GeminiConfig struct {
	APIKey    string `mapstructure:"api_key"`
	ModelName string `mapstructure:"model_name"`
}

type AnnotatorConfig struct {
	LineWidth float64 `mapstructure:"line_width" validate:"gt=0"`
	FontSize  float64 `mapstructure:"font_size" validate:"gt=0"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

type ArchiveConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	Endpoint        string `mapstructure:"endpoint"`
}

var defaults = map[string]interface{}{
	"app.name":             "Image Classifier",
	"app.env":              "development",
	"app.host":             "0.0.0.0",
	"app.port":             8000,
	"app.body_limit":       20 * 1024 * 1024,
	"app.max_upload_size":  10 * 1024 * 1024,
	"app.request_timeout":  time.Duration(0),
	"app.shutdown_timeout": 10 * time.Second,

	"log.level": "debug",
	"log.dir":   "./storage/logs",

	"detector.backend":             "onnx",
	"detector.threshold":           0.5,
	"detector.iou_threshold":       0.7,
	"detector.model_path":          "model/yolo11n.onnx",
	"detector.classes_path":        "",
	"detector.shared_library_path": "",
	"detector.input_size":          640,
	"detector.pool_size":           0,
	"detector.intra_op_threads":    0,
	"detector.remote_url":          "",
	"detector.remote_timeout":      10 * time.Second,
	"detector.jpeg_quality":        95,

	"gemini.api_key":    "",
	"gemini.model_name": "gemini-1.5-flash",

	"annotator.line_width": 3,
	"annotator.font_size":  36,

	"rate_limit.rps":   0,
	"rate_limit.burst": 0,

	"archive.enabled":   false,
	"archive.cache_ttl": time.Hour,

	"db.host":              "localhost",
	"db.port":              5432,
	"db.user":              "postgres",
	"db.password":          "",
	"db.name":              "classifier",
	"db.sslmode":           "disable",
	"db.max_open_conns":    10,
	"db.max_idle_conns":    5,
	"db.conn_max_lifetime": 30 * time.Minute,

	"redis.address":  "",
	"redis.password": "",
	"redis.db":       0,

	"aws.region":            "",
	"aws.access_key_id":     "",
	"aws.secret_access_key": "",
	"aws.bucket_name":       "",
	"aws.endpoint":          "",
}

// LoadConfig layers defaults, an optional config/config.yaml found in paths
// and the environment, in that order. Keys map to environment variables by
// replacing "." with "_" and upper casing, e.g. detector.model_path is
// DETECTOR_MODEL_PATH.
func LoadConfig(paths ...string) (*viper.Viper, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

func ParseConfig(v *viper.Viper, validate *validator.Validate) (*AppConfig, error) {
	var c AppConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch c.Detector.Backend {
	case detector.BackendONNX:
		if c.Detector.ModelPath == "" {
			return nil, errors.New("invalid config: DETECTOR_MODEL_PATH is required for the onnx backend")
		}
	case detector.BackendRemote:
		if c.Detector.RemoteURL == "" {
			return nil, errors.New("invalid config: DETECTOR_REMOTE_URL is required for the remote backend")
		}
	case detector.BackendGemini:
		if c.Gemini.APIKey == "" {
			return nil, errors.New("invalid config: GEMINI_API_KEY is required for the gemini backend")
		}
	}

	return &c, nil
}
