// Command ocr-server runs the tesseract engine behind the Recognizer gRPC
// service so the API can be deployed without tesseract installed.
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/attendance-check/internal/config"
	"github.com/example/attendance-check/internal/logging"
	"github.com/example/attendance-check/internal/ocr/tesseract"
	"github.com/example/attendance-check/internal/ocrgrpc"
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

	engine, err := tesseract.New(tesseract.Options{
		PoolSize:       cfg.OCRPoolSize,
		Languages:      cfg.OCRLanguages,
		TessdataPrefix: cfg.TessdataPrefix,
	}, logger)
	if err != nil {
		logger.Fatal("failed to start tesseract", zap.Error(err))
	}
	defer engine.Close()

	lis, err := net.Listen("tcp", cfg.OCRGRPCListen)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err), zap.String("addr", cfg.OCRGRPCListen))
	}

	srv := grpc.NewServer()
	ocrgrpc.RegisterRecognizerServer(srv, ocrgrpc.NewServer(engine, logger))

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		srv.GracefulStop()
	}()

	logger.Info("ocr server listening", zap.String("addr", cfg.OCRGRPCListen), zap.Int("pool_size", cfg.OCRPoolSize))
	if err := srv.Serve(lis); err != nil {
		logger.Fatal("ocr server failed", zap.Error(err))
	}
}
