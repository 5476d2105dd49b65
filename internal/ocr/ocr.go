// Package ocr defines the text recognition boundary used by attendance
// extraction. Engines may run in process (Tesseract) or behind a remote
// service; callers only see encoded image bytes in and plain text out.
package ocr

import (
	"context"
	"errors"
)

// ErrEngineClosed is returned by engines that have released their resources.
var ErrEngineClosed = errors.New("ocr: engine closed")

// Input is a single image submitted for recognition.
type Input struct {
	// ID is echoed back in the Result; usually the request id.
	ID string
	// Image holds an encoded image, PNG for the attendance pipeline.
	Image []byte
	// Languages are Tesseract language codes (e.g. "eng"). Empty means the
	// engine default.
	Languages []string
}

// Result is the recognized text for one Input.
type Result struct {
	InputID string
	Text    string
}

// Engine recognizes text in images. Implementations must be safe for
// concurrent use.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, in Input) (Result, error)

func (f EngineFunc) Name() string { return "func" }

func (f EngineFunc) Recognize(ctx context.Context, in Input) (Result, error) {
	return f(ctx, in)
}
