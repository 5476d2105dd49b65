package attendance

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var attendancePattern = regexp.MustCompile(`(\d+)\s*/\s*(\d+)\s*=\s*(\d+(?:\.\d+)?)`)

// Attendance is a successfully extracted record.
type Attendance struct {
	// Percentage is the trailing figure as printed, neither rounded nor
	// clamped. Comparing it with a policy threshold is the caller's job.
	Percentage float64
	// Numerator and Denominator are the attended and total counts captured
	// next to the percentage. They are informational only.
	Numerator   int64
	Denominator int64
	// Text is the raw OCR output the record was parsed from.
	Text string
	// Threshold is the binarization threshold that produced Text.
	Threshold uint8
}

// Consistent reports whether Numerator/Denominator agrees with Percentage
// within tolerance percentage points. Extract never calls it; the printed
// percentage is authoritative.
func (a *Attendance) Consistent(tolerance float64) bool {
	if a == nil || a.Denominator == 0 {
		return false
	}
	computed := float64(a.Numerator) / float64(a.Denominator) * 100
	return math.Abs(computed-a.Percentage) <= tolerance
}

// ParseText finds the first "numerator / denominator = percentage" triple in
// text. Whitespace around "/" and "=" is optional and the percentage may
// carry a decimal fraction.
func ParseText(text string) (*Attendance, error) {
	m := attendancePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrPatternNotFound
	}
	pct, err := strconv.ParseFloat(m[3], 64)
	if err != nil || math.IsInf(pct, 0) {
		return nil, fmt.Errorf("%w: percentage %q out of range", ErrPatternNotFound, m[3])
	}
	return &Attendance{
		Percentage:  pct,
		Numerator:   parseCount(m[1]),
		Denominator: parseCount(m[2]),
		Text:        text,
	}, nil
}

// parseCount returns zero for counts wider than int64; they never affect the
// result.
func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
