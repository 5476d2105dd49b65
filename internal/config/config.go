package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EngineTesseract   = "tesseract"
	EngineGRPC        = "grpc"
	EngineRekognition = "rekognition"
)

// Config holds every runtime setting of the service. Values come from the
// environment, optionally seeded from a .env file in the working directory.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string

	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string

	// OCREngine selects the recognizer: "tesseract" runs in process,
	// "grpc" calls a remote OCR sidecar at OCRGRPCAddr and "rekognition"
	// calls AWS Rekognition in AWSRegion.
	OCREngine      string
	OCRGRPCAddr    string
	OCRGRPCListen  string
	OCRPoolSize    int
	OCRLanguages   []string
	TessdataPrefix string

	AWSRegion                string
	RekognitionMinConfidence float64

	// OCRThreshold is the fixed binarization cut-off on a 0-255 scale.
	OCRThreshold          uint8
	OCRFallbackThresholds []uint8
	OCRTimeout            time.Duration

	MinAttendance float64
	AttendanceTTL time.Duration
	MaxUploadSize int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("database_dsn", "host=postgres user=postgres password=postgres dbname=attendance port=5432 sslmode=disable")
	v.SetDefault("redis_addr", "redis:6379")
	v.SetDefault("jwt_secret", "dev-secret")
	v.SetDefault("jwt_audience", "")
	v.SetDefault("ocr_engine", EngineTesseract)
	v.SetDefault("ocr_grpc_addr", "ocr-service:50051")
	v.SetDefault("ocr_grpc_listen", ":50051")
	v.SetDefault("ocr_pool_size", 2)
	v.SetDefault("ocr_languages", "")
	v.SetDefault("tessdata_prefix", "")
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("rekognition_min_confidence", 0.0)
	v.SetDefault("ocr_threshold", 150)
	v.SetDefault("ocr_fallback_thresholds", "")
	v.SetDefault("ocr_timeout", 15*time.Second)
	v.SetDefault("min_attendance", 75.0)
	v.SetDefault("attendance_ttl", 24*time.Hour)
	v.SetDefault("max_upload_size", 10<<20)
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)
	v.AutomaticEnv()

	threshold, err := parseThreshold(v.GetString("ocr_threshold"))
	if err != nil {
		return nil, fmt.Errorf("config: OCR_THRESHOLD: %w", err)
	}
	var fallbacks []uint8
	for _, raw := range splitList(v.GetString("ocr_fallback_thresholds")) {
		t, err := parseThreshold(raw)
		if err != nil {
			return nil, fmt.Errorf("config: OCR_FALLBACK_THRESHOLDS: %w", err)
		}
		fallbacks = append(fallbacks, t)
	}

	cfg := &Config{
		HTTPAddr:                 v.GetString("http_addr"),
		ShutdownTimeout:          v.GetDuration("shutdown_timeout"),
		LogLevel:                 v.GetString("log_level"),
		DatabaseDSN:              v.GetString("database_dsn"),
		RedisAddr:                v.GetString("redis_addr"),
		JWTSecret:                v.GetString("jwt_secret"),
		JWTAudience:              v.GetString("jwt_audience"),
		OCREngine:                strings.ToLower(strings.TrimSpace(v.GetString("ocr_engine"))),
		OCRGRPCAddr:              v.GetString("ocr_grpc_addr"),
		OCRGRPCListen:            v.GetString("ocr_grpc_listen"),
		OCRPoolSize:              v.GetInt("ocr_pool_size"),
		OCRLanguages:             splitList(v.GetString("ocr_languages")),
		TessdataPrefix:           v.GetString("tessdata_prefix"),
		AWSRegion:                v.GetString("aws_region"),
		RekognitionMinConfidence: v.GetFloat64("rekognition_min_confidence"),
		OCRThreshold:             threshold,
		OCRFallbackThresholds:    fallbacks,
		OCRTimeout:               v.GetDuration("ocr_timeout"),
		MinAttendance:            v.GetFloat64("min_attendance"),
		AttendanceTTL:            v.GetDuration("attendance_ttl"),
		MaxUploadSize:            v.GetInt64("max_upload_size"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used as given.
func (c *Config) Validate() error {
	switch c.OCREngine {
	case EngineTesseract, EngineGRPC, EngineRekognition:
	default:
		return fmt.Errorf("config: unknown OCR_ENGINE %q", c.OCREngine)
	}
	if c.OCREngine == EngineGRPC && c.OCRGRPCAddr == "" {
		return errors.New("config: OCR_GRPC_ADDR is required for the grpc engine")
	}
	if c.OCREngine == EngineRekognition && c.AWSRegion == "" {
		return errors.New("config: AWS_REGION is required for the rekognition engine")
	}
	if c.RekognitionMinConfidence < 0 || c.RekognitionMinConfidence > 100 {
		return fmt.Errorf("config: REKOGNITION_MIN_CONFIDENCE must be within 0-100, got %g", c.RekognitionMinConfidence)
	}
	if c.OCRPoolSize < 1 {
		return fmt.Errorf("config: OCR_POOL_SIZE must be positive, got %d", c.OCRPoolSize)
	}
	if c.OCRTimeout <= 0 {
		return fmt.Errorf("config: OCR_TIMEOUT must be positive, got %s", c.OCRTimeout)
	}
	if c.MinAttendance < 0 || c.MinAttendance > 100 {
		return fmt.Errorf("config: MIN_ATTENDANCE must be within 0-100, got %g", c.MinAttendance)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("config: MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}
	return nil
}

func parseThreshold(raw string) (uint8, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("threshold %d outside 0-255", n)
	}
	return uint8(n), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
