package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/attendance-check/internal/retry"
)

// ErrNotFound is returned when no attendance log matches a lookup.
var ErrNotFound = errors.New("attendance log not found")

// AttendanceLog records one extraction attempt, successful or not.
type AttendanceLog struct {
	ID            uint      `gorm:"primaryKey"`
	RequestID     string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID        string    `gorm:"column:user_id;index;size:64"`
	Percentage    float64   `gorm:"column:percentage"`
	Numerator     int64     `gorm:"column:numerator"`
	Denominator   int64     `gorm:"column:denominator"`
	Success       bool      `gorm:"column:success"`
	FailureReason string    `gorm:"column:failure_reason;type:text"`
	SHA1Hash      string    `gorm:"column:sha1_hash;index;size:40"`
	LatencyMs     int64     `gorm:"column:latency_ms"`
	CreatedAt     time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (AttendanceLog) TableName() string {
	return "attendance_logs"
}

// MetricsAggregation is the raw aggregate over all logs.
type MetricsAggregation struct {
	TotalCount        int64
	SuccessCount      int64
	AveragePercentage float64
	AverageLatencyMs  float64
}

// AttendanceRepository provides persistence APIs for attendance logs.
type AttendanceRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAttendanceRepository creates a new repository instance.
func NewAttendanceRepository(db *gorm.DB, logger *zap.Logger) *AttendanceRepository {
	return &AttendanceRepository{
		db:             db,
		logger:         logger.Named("attendance_repository"),
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AttendanceRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&AttendanceLog{})
	})
}

// SaveLog persists an attendance log entry.
func (r *AttendanceRepository) SaveLog(ctx context.Context, log *AttendanceLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves a log matching the request and owner.
func (r *AttendanceRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*AttendanceLog, error) {
	var log AttendanceLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		return translate(r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error)
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// LatestSuccessfulForUser returns the most recent successful extraction for
// the user that is not older than since.
func (r *AttendanceRepository) LatestSuccessfulForUser(ctx context.Context, userID string, since time.Time) (*AttendanceLog, error) {
	var log AttendanceLog
	err := r.executeWithRetry(ctx, "repository.latest_successful", "", func() error {
		return translate(r.db.WithContext(ctx).
			Where("user_id = ? AND success = ? AND created_at >= ?", userID, true, since).
			Order("created_at DESC").
			First(&log).Error)
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists the user's other uploads of the same image.
func (r *AttendanceRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*AttendanceLog, error) {
	var logs []*AttendanceLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND sha1_hash = ? AND request_id <> ?", userID, hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals, success count and averages over all logs.
func (r *AttendanceRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AttendanceLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count,
				COALESCE(AVG(CASE WHEN success THEN percentage END), 0) AS average_percentage,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *AttendanceRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}
	return retry.Do(ctx, r.logger, policy, operation, requestID, fn)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
