package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/attendance-check/internal/attendance"
	"github.com/example/attendance-check/internal/auth"
	"github.com/example/attendance-check/internal/handlers"
	"github.com/example/attendance-check/internal/imagetest"
	"github.com/example/attendance-check/internal/ocr"
	"github.com/example/attendance-check/internal/repository"
	"github.com/example/attendance-check/internal/usecase"
)

const integrationSecret = "integration-secret"

type memoryRepository struct {
	mu   sync.Mutex
	logs []*repository.AttendanceLog
}

func (m *memoryRepository) SaveLog(ctx context.Context, log *repository.AttendanceLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.AttendanceLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.RequestID == requestID && l.UserID == userID {
			return l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryRepository) LatestSuccessfulForUser(ctx context.Context, userID string, since time.Time) (*repository.AttendanceLog, error) {
	return nil, repository.ErrNotFound
}

func (m *memoryRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.AttendanceLog, error) {
	return nil, nil
}

func (m *memoryRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{}, nil
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value.(string)
	return nil
}

func (m *memoryCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", usecase.ErrCacheMiss
	}
	return v, nil
}

func (m *memoryCache) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func TestServerGracefulShutdownDuringExtraction(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()

	var startOnce sync.Once
	engine := ocr.EngineFunc(func(ctx context.Context, in ocr.Input) (ocr.Result, error) {
		startOnce.Do(func() { close(requestStarted) })
		<-releaseRequest
		return ocr.Result{Text: "Attended 45/60 = 75.00"}, nil
	})
	extractor := attendance.NewExtractor(engine, logger, attendance.WithOCRTimeout(5*time.Second))
	uc := usecase.NewAttendanceUseCase(&memoryRepository{}, &memoryCache{values: map[string]string{}}, extractor, usecase.DefaultPolicy, logger)

	router := gin.New()
	handlers.RegisterRoutes(router, handlers.NewHandler(uc, logger, 0), auth.JWTMiddleware(auth.Config{Secret: integrationSecret}))

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	done := make(chan error, 1)
	go func() {
		done <- runHTTPServer(ctx, server, listener, 2*time.Second, logger)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	req := buildUploadRequest(t, "http://"+addr+"/attendance", imagetest.ScreenshotPNG(t, "45/60 = 75.00"))

	client := &http.Client{Timeout: 5 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending request")
		resp, err := client.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
		t.Log("extraction started")
	case err := <-errCh:
		t.Fatalf("request failed before extraction: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	t.Log("requesting shutdown")
	stop()

	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)
	t.Log("released request")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body=%s", resp.StatusCode, string(body))
		}
		var payload struct {
			Percentage float64 `json:"percentage"`
			Eligible   bool    `json:"eligible"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("invalid response body: %v", err)
		}
		if payload.Percentage != 75.0 || !payload.Eligible {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func buildUploadRequest(t *testing.T, url string, image []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "attendance.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(image); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	claims := jwt.RegisteredClaims{Subject: "student-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(integrationSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}

func TestRunHTTPServerReturnsServeError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	listener.Close()

	err = runHTTPServer(context.Background(), &http.Server{Handler: http.NotFoundHandler()}, listener, time.Second, zap.NewNop())
	if err == nil {
		t.Fatal("expected serve error on a closed listener")
	}
}
