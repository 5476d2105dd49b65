package tesseract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"

	"github.com/example/attendance-check/internal/ocr"
)

// defaultLanguage is gosseract's own default.
const defaultLanguage = "eng"

// Options configures the Tesseract engine. Everything the original deployment
// hard-coded process wide (binary and model location) is injected here.
type Options struct {
	// PoolSize is the number of gosseract clients kept warm. A client is not
	// safe for concurrent use, so this bounds parallel recognitions.
	PoolSize int
	// Languages used when an Input carries none. Empty means English.
	Languages []string
	// TessdataPrefix points at the trained data directory. Empty keeps the
	// library default.
	TessdataPrefix string
}

// Engine implements ocr.Engine on top of a pool of gosseract clients.
type Engine struct {
	clients   chan *gosseract.Client
	size      int
	languages []string
	logger    *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New constructs the engine and its client pool.
func New(opts Options, logger *zap.Logger) (*Engine, error) {
	size := opts.PoolSize
	if size <= 0 {
		size = 1
	}
	languages := append([]string(nil), opts.Languages...)
	if len(languages) == 0 {
		languages = []string{defaultLanguage}
	}
	e := &Engine{
		clients:   make(chan *gosseract.Client, size),
		size:      size,
		languages: languages,
		logger:    logger.Named("tesseract"),
		closed:    make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		c := gosseract.NewClient()
		if opts.TessdataPrefix != "" {
			if err := c.SetTessdataPrefix(opts.TessdataPrefix); err != nil {
				c.Close()
				e.drain(i)
				return nil, fmt.Errorf("tesseract: set tessdata prefix: %w", err)
			}
		}
		e.clients <- c
	}
	e.logger.Info("tesseract engine ready",
		zap.Int("pool_size", size),
		zap.String("version", gosseract.Version()),
		zap.Strings("languages", e.languages),
	)
	return e, nil
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize waits for a free client, honouring ctx, and runs recognition on
// it. The underlying call is blocking C code and cannot be interrupted, so
// cancellation after the call started only stops the wait for its result;
// the client goes back to the pool once Tesseract returns.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	var c *gosseract.Client
	select {
	case <-e.closed:
		return ocr.Result{}, ocr.ErrEngineClosed
	case <-ctx.Done():
		return ocr.Result{}, ctx.Err()
	case c = <-e.clients:
	}

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { e.clients <- c }()
		text, err := e.recognizeWithClient(c, in)
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		e.logger.Warn("recognition abandoned", zap.String("input_id", in.ID), zap.Error(ctx.Err()))
		return ocr.Result{}, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return ocr.Result{}, out.err
		}
		return ocr.Result{InputID: in.ID, Text: out.text}, nil
	}
}

// recognizeWithClient sets the languages on every call. Clients are pooled,
// so a per-request language must not leak into the next request.
func (e *Engine) recognizeWithClient(c *gosseract.Client, in ocr.Input) (string, error) {
	if err := c.SetImageFromBytes(in.Image); err != nil {
		return "", fmt.Errorf("tesseract: set image: %w", err)
	}
	langs := in.Languages
	if len(langs) == 0 {
		langs = e.languages
	}
	if err := c.SetLanguage(langs...); err != nil {
		return "", fmt.Errorf("tesseract: set languages: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Close waits for in-flight recognitions and releases every client.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.drain(e.size)
	})
	return nil
}

func (e *Engine) drain(n int) {
	for i := 0; i < n; i++ {
		c := <-e.clients
		if err := c.Close(); err != nil {
			e.logger.Warn("failed to close tesseract client", zap.Error(err))
		}
	}
}
