package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/attendance-check/internal/attendance"
	"github.com/example/attendance-check/internal/auth"
	"github.com/example/attendance-check/internal/logging"
	"github.com/example/attendance-check/internal/repository"
	"github.com/example/attendance-check/internal/usecase"
)

// MaxUploadSize is the default limit for an attendance screenshot.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and headers around the file.
const multipartOverhead = 1 << 20

// AttendanceService is the use case surface the handlers depend on.
type AttendanceService interface {
	VerifyAttendance(ctx context.Context, userID string, imageBytes []byte) (*usecase.Verification, error)
	CurrentAttendance(ctx context.Context, userID string) (*usecase.Verification, error)
	CheckEligibility(ctx context.Context, userID string) (usecase.Eligibility, *usecase.Verification, error)
	ClearAttendance(ctx context.Context, userID string) error
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
	Policy() usecase.Policy
}

// Handler serves the attendance HTTP API.
type Handler struct {
	svc           AttendanceService
	logger        *zap.Logger
	maxUploadSize int64
}

// NewHandler builds a Handler. A non-positive maxUploadSize means MaxUploadSize.
func NewHandler(svc AttendanceService, logger *zap.Logger, maxUploadSize int64) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = MaxUploadSize
	}
	return &Handler{svc: svc, logger: logger.Named("http"), maxUploadSize: maxUploadSize}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/", authMiddleware)
	api.POST("/attendance", h.uploadAttendance)
	api.GET("/attendance", h.currentAttendance)
	api.DELETE("/attendance", h.clearAttendance)
	api.GET("/attendance/eligibility", h.eligibility)
	api.GET("/uploads/:id/duplicates", h.duplicates)
	api.GET("/metrics", h.metrics)
}

func (h *Handler) uploadAttendance(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > h.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image is too large"})
		return
	}
	if declared := file.Header.Get("Content-Type"); declared != "" && !isImageMediaType(declared) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "upload must be an image"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}
	// Empty uploads go through to the extractor, which reports them as a
	// decode failure.
	if len(data) > 0 {
		if detected := mimetype.Detect(data); !isImageMediaType(detected.String()) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "upload must be an image", "detected": detected.String()})
			return
		}
	}

	v, err := h.svc.VerifyAttendance(c.Request.Context(), userID, data)
	if err != nil {
		if errors.Is(err, usecase.ErrExtractionFailed) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  usecase.ErrExtractionFailed.Error(),
				"reason": failureReason(err),
			})
			return
		}
		h.logger.Error("attendance verification failed", append(logging.ErrorFields(err), zap.String("user_id", userID))...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify attendance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":     v.RequestID,
		"percentage":     v.Percentage,
		"numerator":      v.Numerator,
		"denominator":    v.Denominator,
		"eligible":       v.Eligible,
		"min_attendance": v.MinAttendance,
		"message":        verificationMessage(v),
	})
}

func (h *Handler) currentAttendance(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	v, err := h.svc.CurrentAttendance(c.Request.Context(), userID)
	if errors.Is(err, usecase.ErrNotVerified) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to load attendance", append(logging.ErrorFields(err), zap.String("user_id", userID))...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attendance"})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) clearAttendance(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	if err := h.svc.ClearAttendance(c.Request.Context(), userID); err != nil {
		h.logger.Error("failed to clear attendance", append(logging.ErrorFields(err), zap.String("user_id", userID))...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear attendance"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) eligibility(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	state, v, err := h.svc.CheckEligibility(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to check eligibility", append(logging.ErrorFields(err), zap.String("user_id", userID))...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check eligibility"})
		return
	}

	policy := h.svc.Policy()
	body := gin.H{
		"status":         state,
		"min_attendance": policy.MinAttendance,
	}
	switch state {
	case usecase.Unverified:
		body["message"] = "Please verify your attendance before rating or reviewing."
	case usecase.BelowThreshold:
		body["percentage"] = v.Percentage
		body["message"] = fmt.Sprintf("Your attendance is below %g%%. You cannot rate or review professors.", policy.MinAttendance)
	default:
		body["percentage"] = v.Percentage
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) duplicates(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	report, err := h.svc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to build duplicate report", append(logging.ErrorFields(err), zap.String("user_id", userID))...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build duplicate report"})
		return
	}

	duplicates := make([]gin.H, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		duplicates = append(duplicates, gin.H{
			"request_id": d.RequestID,
			"success":    d.Success,
			"percentage": d.Percentage,
			"created_at": d.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id": report.Request.RequestID,
		"sha1_hash":  report.Request.SHA1Hash,
		"duplicates": duplicates,
	})
}

func (h *Handler) metrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to aggregate metrics", logging.ErrorFields(err)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func isImageMediaType(value string) bool {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}

func failureReason(err error) string {
	for _, reason := range []error{
		attendance.ErrDecode,
		attendance.ErrPatternNotFound,
		attendance.ErrOCRTimeout,
		attendance.ErrOCR,
	} {
		if errors.Is(err, reason) {
			return reason.Error()
		}
	}
	return "unknown"
}

func verificationMessage(v *usecase.Verification) string {
	if v.Eligible {
		return fmt.Sprintf("Attendance verified: %g%%", v.Percentage)
	}
	return fmt.Sprintf("Attendance too low (%g%%). Must be at least %g%%.", v.Percentage, v.MinAttendance)
}
