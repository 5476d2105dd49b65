package attendance

import "errors"

// Failure reasons returned by Extract. Callers match them with errors.Is; the
// message of the sentinel is the reason shown in logs and API responses.
var (
	// ErrDecode means the bytes do not form an image any registered decoder
	// accepts, including the empty buffer.
	ErrDecode = errors.New("decode error")
	// ErrPatternNotFound means OCR produced text but no "n / d = p" triple.
	ErrPatternNotFound = errors.New("pattern not found")
	// ErrOCR wraps failures of the recognition engine itself.
	ErrOCR = errors.New("ocr error")
	// ErrOCRTimeout means recognition exceeded the configured bound.
	ErrOCRTimeout = errors.New("ocr timed out")
)

// IsExtractionFailure reports whether err is one of the failure reasons above,
// as opposed to a caller side problem such as a cancelled request.
func IsExtractionFailure(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrPatternNotFound) ||
		errors.Is(err, ErrOCR) ||
		errors.Is(err, ErrOCRTimeout)
}
