package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/attendance-check/internal/attendance"
	"github.com/example/attendance-check/internal/logging"
	"github.com/example/attendance-check/internal/repository"
	"github.com/example/attendance-check/internal/retry"
)

var (
	// ErrExtractionFailed wraps every attendance.Extract failure. Its message
	// is the one shown to the user.
	ErrExtractionFailed = errors.New("could not extract a valid attendance percentage")
	// ErrNotVerified means the user has no current verified attendance.
	ErrNotVerified = errors.New("attendance not verified")
)

// AttendanceRepository defines the persistence operations needed by the use case.
type AttendanceRepository interface {
	SaveLog(ctx context.Context, log *repository.AttendanceLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.AttendanceLog, error)
	LatestSuccessfulForUser(ctx context.Context, userID string, since time.Time) (*repository.AttendanceLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.AttendanceLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Extractor reads the attendance percentage out of an uploaded image.
type Extractor interface {
	Extract(ctx context.Context, imageBytes []byte) (*attendance.Attendance, error)
}

// Policy is the gate applied to extracted percentages.
type Policy struct {
	// MinAttendance is the inclusive percentage required to rate or review.
	MinAttendance float64
	// TTL is how long a verification stays valid for the user.
	TTL time.Duration
}

// DefaultPolicy mirrors the university rule: 75% attendance, valid for a day.
var DefaultPolicy = Policy{MinAttendance: 75.0, TTL: 24 * time.Hour}

// Eligibility is the outcome of the rating/review gate.
type Eligibility string

const (
	Eligible       Eligibility = "eligible"
	BelowThreshold Eligibility = "below_threshold"
	Unverified     Eligibility = "unverified"
)

// Verification is a user's verified attendance as seen by the gate.
type Verification struct {
	RequestID     string    `json:"request_id"`
	UserID        string    `json:"user_id"`
	Percentage    float64   `json:"percentage"`
	Numerator     int64     `json:"numerator"`
	Denominator   int64     `json:"denominator"`
	MinAttendance float64   `json:"min_attendance"`
	Eligible      bool      `json:"eligible"`
	VerifiedAt    time.Time `json:"verified_at"`
}

// DuplicateReport represents duplicate uploads for a request.
type DuplicateReport struct {
	Request    *repository.AttendanceLog
	Duplicates []*repository.AttendanceLog
}

// AttendanceUseCase ties extraction, persistence and the per-user
// verification cache together.
type AttendanceUseCase struct {
	repo      AttendanceRepository
	cache     Cache
	extractor Extractor
	policy    Policy
	logger    *zap.Logger
	retry     retry.Policy
	now       func() time.Time
}

// NewAttendanceUseCase constructs a new use case instance.
func NewAttendanceUseCase(repo AttendanceRepository, cache Cache, extractor Extractor, policy Policy, logger *zap.Logger) *AttendanceUseCase {
	if policy.TTL <= 0 {
		policy.TTL = DefaultPolicy.TTL
	}
	return &AttendanceUseCase{
		repo:      repo,
		cache:     cache,
		extractor: extractor,
		policy:    policy,
		logger:    logger.Named("attendance_usecase"),
		retry:     retry.DefaultPolicy,
		now:       time.Now,
	}
}

// Policy returns the gate configuration.
func (uc *AttendanceUseCase) Policy() Policy {
	return uc.policy
}

// VerifyAttendance extracts the percentage from imageBytes, records the
// attempt and, on success, makes it the user's current attendance. Extraction
// failures come back wrapped in ErrExtractionFailed and leave any previous
// verification in place.
func (uc *AttendanceUseCase) VerifyAttendance(ctx context.Context, userID string, imageBytes []byte) (*Verification, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_attendance", requestID).With(zap.String("user_id", userID))

	start := uc.now()
	att, extractErr := uc.extractor.Extract(attendance.WithRequestID(ctx, requestID), imageBytes)
	latency := uc.now().Sub(start)

	if extractErr != nil && ctx.Err() != nil {
		opLogger.Warn("request cancelled during extraction", zap.Error(ctx.Err()))
		return nil, logging.NewOperationError("usecase.extract", requestID, ctx.Err())
	}

	hash := sha1.Sum(imageBytes)
	log := &repository.AttendanceLog{
		RequestID: requestID,
		UserID:    userID,
		Success:   extractErr == nil,
		SHA1Hash:  hex.EncodeToString(hash[:]),
		LatencyMs: latency.Milliseconds(),
		CreatedAt: start.UTC(),
	}
	if extractErr != nil {
		log.FailureReason = extractErr.Error()
	} else {
		log.Percentage = att.Percentage
		log.Numerator = att.Numerator
		log.Denominator = att.Denominator
	}

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist attendance log", zap.Error(wrapped))
		return nil, wrapped
	}

	if extractErr != nil {
		opLogger.Info("attendance extraction failed", zap.Error(extractErr), zap.Int64("latency_ms", log.LatencyMs))
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, extractErr)
	}

	verification := uc.verificationFromLog(log)
	if err := uc.storeCurrent(ctx, log); err != nil {
		// The log is persisted, so CurrentAttendance can still recover it.
		opLogger.Warn("failed to cache verified attendance", zap.Error(err))
	}

	opLogger.Info("attendance verified",
		zap.Float64("percentage", verification.Percentage),
		zap.Bool("eligible", verification.Eligible),
		zap.Int64("latency_ms", log.LatencyMs),
	)
	return verification, nil
}

// CurrentAttendance returns the user's verified attendance. The cache is the
// source of truth; the repository is consulted only when the cache cannot be
// read.
func (uc *AttendanceUseCase) CurrentAttendance(ctx context.Context, userID string) (*Verification, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.current_attendance", "").With(zap.String("user_id", userID))

	v, err := uc.loadCurrent(ctx, userID)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, ErrCacheMiss):
		return nil, ErrNotVerified
	default:
		opLogger.Warn("failed to read cached attendance", zap.Error(err))
	}

	log, err := uc.repo.LatestSuccessfulForUser(ctx, userID, uc.now().Add(-uc.policy.TTL).UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotVerified
	}
	if err != nil {
		return nil, err
	}
	return uc.verificationFromLog(log), nil
}

// CheckEligibility applies the gate to the user's current attendance.
func (uc *AttendanceUseCase) CheckEligibility(ctx context.Context, userID string) (Eligibility, *Verification, error) {
	v, err := uc.CurrentAttendance(ctx, userID)
	if errors.Is(err, ErrNotVerified) {
		return Unverified, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if v.Eligible {
		return Eligible, v, nil
	}
	return BelowThreshold, v, nil
}

// ClearAttendance forgets the user's current verification.
func (uc *AttendanceUseCase) ClearAttendance(ctx context.Context, userID string) error {
	return retry.Do(ctx, uc.logger, uc.retry, "cache.del.attendance", "", func() error {
		return uc.cache.Del(ctx, cacheKey(userID))
	})
}

// GetDuplicateReport builds a duplicate detection report for an upload.
func (uc *AttendanceUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

// Meets reports whether percentage passes the gate. The comparison is
// inclusive and made on the unrounded value.
func (p Policy) Meets(percentage float64) bool {
	return percentage >= p.MinAttendance
}

func (uc *AttendanceUseCase) verificationFromLog(log *repository.AttendanceLog) *Verification {
	return &Verification{
		RequestID:     log.RequestID,
		UserID:        log.UserID,
		Percentage:    log.Percentage,
		Numerator:     log.Numerator,
		Denominator:   log.Denominator,
		MinAttendance: uc.policy.MinAttendance,
		Eligible:      uc.policy.Meets(log.Percentage),
		VerifiedAt:    log.CreatedAt,
	}
}
