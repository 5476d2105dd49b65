package ocrgrpc

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/attendance-check/internal/logging"
	"github.com/example/attendance-check/internal/ocr"
)

// Server exposes a local ocr.Engine as a Recognizer.
type Server struct {
	engine ocr.Engine
	logger *zap.Logger
}

// NewServer wraps engine.
func NewServer(engine ocr.Engine, logger *zap.Logger) *Server {
	return &Server{engine: engine, logger: logger.Named("ocrgrpc_server")}
}

// Recognize implements RecognizerServer.
func (s *Server) Recognize(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if len(in.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "image is required")
	}

	input := ocr.Input{Image: in.GetValue()}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if langs := md.Get(languagesKey); len(langs) > 0 && langs[0] != "" {
			input.Languages = strings.Split(langs[0], "+")
		}
		if ids := md.Get(inputIDKey); len(ids) > 0 {
			input.ID = ids[0]
		}
	}

	res, err := s.engine.Recognize(ctx, input)
	if err != nil {
		opLogger := logging.WithOperation(s.logger, "ocrgrpc.serve_recognize", input.ID)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		case errors.Is(err, context.Canceled):
			return nil, status.Error(codes.Canceled, err.Error())
		case errors.Is(err, ocr.ErrEngineClosed):
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		opLogger.Error("recognition failed", zap.Error(err), zap.String("engine", s.engine.Name()))
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.String(res.Text), nil
}
