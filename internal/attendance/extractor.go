// Package attendance turns an uploaded attendance screenshot into the
// percentage printed on it: decode, grayscale, binarize, OCR, then parse the
// first "attended / total = percentage" triple.
package attendance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"go.uber.org/zap"

	"github.com/example/attendance-check/internal/ocr"
)

// DefaultOCRTimeout bounds a single recognition call.
const DefaultOCRTimeout = 15 * time.Second

type requestIDKey struct{}

// WithRequestID tags ctx with the id of the upload being extracted. The id is
// handed to the OCR engine as the input id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Extractor runs the attendance pipeline. It holds configuration only and is
// safe for concurrent use as long as its engine is.
type Extractor struct {
	engine     ocr.Engine
	threshold  uint8
	fallbacks  []uint8
	ocrTimeout time.Duration
	languages  []string
	logger     *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(threshold uint8) Option {
	return func(x *Extractor) { x.threshold = threshold }
}

// WithFallbackThresholds lists thresholds to retry with, in order, when the
// primary threshold yields text without an attendance pattern. Other failures
// are never retried.
func WithFallbackThresholds(thresholds ...uint8) Option {
	return func(x *Extractor) { x.fallbacks = append([]uint8(nil), thresholds...) }
}

// WithOCRTimeout overrides DefaultOCRTimeout. Non-positive values are ignored.
func WithOCRTimeout(d time.Duration) Option {
	return func(x *Extractor) {
		if d > 0 {
			x.ocrTimeout = d
		}
	}
}

// WithLanguages passes language hints to the OCR engine.
func WithLanguages(langs ...string) Option {
	return func(x *Extractor) { x.languages = append([]string(nil), langs...) }
}

// NewExtractor builds an Extractor around engine.
func NewExtractor(engine ocr.Engine, logger *zap.Logger, opts ...Option) *Extractor {
	x := &Extractor{
		engine:     engine,
		threshold:  DefaultThreshold,
		ocrTimeout: DefaultOCRTimeout,
		logger:     logger.Named("attendance_extractor"),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract returns the attendance printed in the image, or an error matching
// one of ErrDecode, ErrPatternNotFound, ErrOCR or ErrOCRTimeout. imageBytes is
// never modified.
func (x *Extractor) Extract(ctx context.Context, imageBytes []byte) (result *Attendance, err error) {
	stage := "decode"
	defer func() {
		if r := recover(); r != nil {
			result = nil
			if stage == "decode" {
				err = fmt.Errorf("%w: decoder panic: %v", ErrDecode, r)
			} else {
				err = fmt.Errorf("%w: %s panic: %v", ErrOCR, stage, r)
			}
			x.logger.Error("extraction panicked", zap.String("stage", stage), zap.Any("panic", r))
		}
	}()

	img, err := Decode(imageBytes)
	if err != nil {
		x.logger.Debug("decode failed", zap.Int("bytes", len(imageBytes)), zap.Error(err))
		return nil, err
	}

	stage = "grayscale"
	gray := Grayscale(img)

	thresholds := append([]uint8{x.threshold}, x.fallbacks...)
	for i, threshold := range thresholds {
		stage = "recognize"
		result, err = x.recognize(ctx, gray, threshold)
		if err == nil {
			if i > 0 {
				x.logger.Info("pattern found with fallback threshold", zap.Uint8("threshold", threshold))
			}
			return result, nil
		}
		if !errors.Is(err, ErrPatternNotFound) {
			return nil, err
		}
		x.logger.Debug("no attendance pattern in text", zap.Uint8("threshold", threshold))
	}
	return nil, err
}

func (x *Extractor) recognize(ctx context.Context, gray *image.Gray, threshold uint8) (*Attendance, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Binarize(gray, threshold)); err != nil {
		return nil, fmt.Errorf("%w: encode binarized image: %v", ErrOCR, err)
	}

	text, err := x.runOCR(ctx, buf.Bytes())
	if err != nil {
		return nil, err
	}

	att, err := ParseText(text)
	if err != nil {
		return nil, err
	}
	att.Threshold = threshold
	return att, nil
}

// runOCR calls the engine under the OCR timeout. Engines that ignore their
// context are abandoned when the deadline passes.
func (x *Extractor) runOCR(ctx context.Context, pngBytes []byte) (string, error) {
	ocrCtx, cancel := context.WithTimeout(ctx, x.ocrTimeout)
	defer cancel()

	type outcome struct {
		res ocr.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		in := ocr.Input{ID: RequestIDFromContext(ctx), Image: pngBytes, Languages: x.languages}
		res, err := x.engine.Recognize(ocrCtx, in)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return "", x.classifyOCRError(ocrCtx, out.err)
		}
		return out.res.Text, nil
	case <-ocrCtx.Done():
		return "", x.classifyOCRError(ocrCtx, ocrCtx.Err())
	}
}

func (x *Extractor) classifyOCRError(ocrCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ocrCtx.Err(), context.DeadlineExceeded) {
		x.logger.Warn("ocr timed out",
			zap.Duration("timeout", x.ocrTimeout),
			zap.String("engine", x.engine.Name()),
			zap.String("request_id", RequestIDFromContext(ocrCtx)),
		)
		return fmt.Errorf("%w after %s: %w", ErrOCRTimeout, x.ocrTimeout, err)
	}
	x.logger.Warn("ocr failed",
		zap.String("engine", x.engine.Name()),
		zap.String("request_id", RequestIDFromContext(ocrCtx)),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %w", ErrOCR, err)
}
