package ocrgrpc

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/attendance-check/internal/logging"
	"github.com/example/attendance-check/internal/ocr"
)

// Client implements ocr.Engine against a remote Recognizer.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
	logger *zap.Logger
}

// Dial returns a ready-to-use client for the OCR service at addr.
func Dial(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("ocrgrpc.dial", "", err)
		logger.Error("failed to dial ocr service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	c := NewClient(conn, logger)
	c.closer = conn.Close
	return c, nil
}

// NewClient wraps an existing connection. The caller keeps ownership of conn.
func NewClient(conn grpc.ClientConnInterface, logger *zap.Logger) *Client {
	return &Client{
		conn:   conn,
		closer: func() error { return nil },
		logger: logger.Named("ocrgrpc_client"),
	}
}

func (c *Client) Name() string { return "grpc" }

// Recognize sends the image to the remote service.
func (c *Client) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	pairs := make([]string, 0, 4)
	if len(in.Languages) > 0 {
		pairs = append(pairs, languagesKey, strings.Join(in.Languages, "+"))
	}
	if in.ID != "" {
		pairs = append(pairs, inputIDKey, in.ID)
	}
	if len(pairs) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}

	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, recognizeMethod, wrapperspb.Bytes(in.Image), out); err != nil {
		wrapped := logging.NewOperationError("ocrgrpc.recognize", in.ID, err)
		c.logger.Error("ocr service call failed", zap.Error(wrapped))
		return ocr.Result{}, wrapped
	}
	return ocr.Result{InputID: in.ID, Text: out.GetValue()}, nil
}

// Close releases the connection opened by Dial.
func (c *Client) Close() error {
	return c.closer()
}
