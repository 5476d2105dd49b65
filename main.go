package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/attendance-check/internal/attendance"
	"github.com/example/attendance-check/internal/auth"
	"github.com/example/attendance-check/internal/config"
	"github.com/example/attendance-check/internal/handlers"
	"github.com/example/attendance-check/internal/logging"
	"github.com/example/attendance-check/internal/ocr"
	"github.com/example/attendance-check/internal/ocr/rekognition"
	"github.com/example/attendance-check/internal/ocr/tesseract"
	"github.com/example/attendance-check/internal/ocrgrpc"
	"github.com/example/attendance-check/internal/repository"
	"github.com/example/attendance-check/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewAttendanceRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
	defer redisClient.Close()

	engine, closeEngine, err := initEngine(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start ocr engine", zap.Error(err), zap.String("engine", cfg.OCREngine))
	}
	defer closeEngine.Close()

	extractor := attendance.NewExtractor(engine, logger,
		attendance.WithThreshold(cfg.OCRThreshold),
		attendance.WithFallbackThresholds(cfg.OCRFallbackThresholds...),
		attendance.WithOCRTimeout(cfg.OCRTimeout),
		attendance.WithLanguages(cfg.OCRLanguages...),
	)
	policy := usecase.Policy{MinAttendance: cfg.MinAttendance, TTL: cfg.AttendanceTTL}
	uc := usecase.NewAttendanceUseCase(repo, usecase.NewRedisCache(redisClient), extractor, policy, logger)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(auth.Config{Secret: cfg.JWTSecret, Audience: cfg.JWTAudience})
	handlers.RegisterRoutes(r, handlers.NewHandler(uc, logger, cfg.MaxUploadSize), authMiddleware)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("attendance API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("ocr_engine", engine.Name()),
		zap.Uint8("ocr_threshold", cfg.OCRThreshold),
		zap.Float64("min_attendance", cfg.MinAttendance),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initEngine builds the configured OCR engine. The returned closer releases
// the tesseract client pool or the gRPC connection.
func initEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ocr.Engine, io.Closer, error) {
	switch cfg.OCREngine {
	case config.EngineRekognition:
		engine, err := rekognition.New(ctx, cfg.AWSRegion, float32(cfg.RekognitionMinConfidence), logger)
		if err != nil {
			return nil, nil, err
		}
		return engine, engine, nil
	case config.EngineGRPC:
		client, err := ocrgrpc.Dial(ctx, cfg.OCRGRPCAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	default:
		engine, err := tesseract.New(tesseract.Options{
			PoolSize:       cfg.OCRPoolSize,
			Languages:      cfg.OCRLanguages,
			TessdataPrefix: cfg.TessdataPrefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return engine, engine, nil
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// serveHTTPServer runs server until SIGINT or SIGTERM.
func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runHTTPServer(ctx, server, nil, shutdownTimeout, logger)
}

// runHTTPServer serves on lis, or on server.Addr when lis is nil, until ctx
// is done. In-flight requests then get shutdownTimeout to finish.
func runHTTPServer(ctx context.Context, server *http.Server, lis net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		if lis != nil {
			serveErr <- server.Serve(lis)
			return
		}
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return ignoreServerClosed(err)
	case <-ctx.Done():
	}

	logger.Info("shutting down http server", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return ignoreServerClosed(<-serveErr)
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
