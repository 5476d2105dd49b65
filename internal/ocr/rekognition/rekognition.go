// Package rekognition recognizes text with AWS Rekognition DetectText.
package rekognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"

	"github.com/example/attendance-check/internal/ocr"
)

// DetectTextAPI is the subset of the Rekognition client the engine calls.
type DetectTextAPI interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Engine implements ocr.Engine. Rekognition returns LINE detections in
// reading order; they are joined with newlines so the text looks like
// Tesseract output to the parser.
type Engine struct {
	client        DetectTextAPI
	minConfidence float32
	logger        *zap.Logger
}

// New loads the default AWS configuration for region and builds the engine.
func New(ctx context.Context, region string, minConfidence float32, logger *zap.Logger) (*Engine, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("rekognition: load aws config: %w", err)
	}
	return NewWithClient(rekognition.NewFromConfig(cfg), minConfidence, logger), nil
}

// NewWithClient builds the engine on an existing client.
func NewWithClient(client DetectTextAPI, minConfidence float32, logger *zap.Logger) *Engine {
	return &Engine{client: client, minConfidence: minConfidence, logger: logger.Named("rekognition")}
}

func (e *Engine) Name() string { return "rekognition" }

func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	params := &rekognition.DetectTextInput{Image: &types.Image{Bytes: in.Image}}
	if e.minConfidence > 0 {
		params.Filters = &types.DetectTextFilters{
			WordFilter: &types.DetectionFilter{MinConfidence: aws.Float32(e.minConfidence)},
		}
	}

	out, err := e.client.DetectText(ctx, params)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("rekognition: detect text: %w", err)
	}

	lines := make([]string, 0, len(out.TextDetections))
	for _, d := range out.TextDetections {
		if d.Type != types.TextTypesLine || d.DetectedText == nil {
			continue
		}
		if e.minConfidence > 0 && d.Confidence != nil && *d.Confidence < e.minConfidence {
			continue
		}
		lines = append(lines, *d.DetectedText)
	}
	e.logger.Debug("text detected",
		zap.String("input_id", in.ID),
		zap.Int("detections", len(out.TextDetections)),
		zap.Int("lines", len(lines)),
	)
	return ocr.Result{InputID: in.ID, Text: strings.Join(lines, "\n")}, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (e *Engine) Close() error { return nil }
