package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func newMockDB(t *testing.T) (*HealthChecker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewHealthChecker(db, nil), mock
}

func TestHealthChecker_NoDependencies(t *testing.T) {
	status := NewHealthChecker(nil, nil).Check(context.Background())
	if status.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", status.Status)
	}
	if len(status.Dependencies) != 0 {
		t.Errorf("Expected no dependencies, got %v", status.Dependencies)
	}
}

func TestHealthChecker_DatabaseHealthy(t *testing.T) {
	checker, mock := newMockDB(t)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	status := checker.Check(context.Background())
	if status.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s (%v)", status.Status, status.Dependencies)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHealthChecker_DatabaseDown(t *testing.T) {
	checker, mock := newMockDB(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	status := checker.Check(context.Background())
	if status.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", status.Status)
	}
	if status.Dependencies["database"].Message != "connection refused" {
		t.Errorf("Unexpected message %q", status.Dependencies["database"].Message)
	}
}

func TestHealthChecker_RedisDownDegrades(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthChecker(nil, client)
	if got := checker.Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("Expected healthy with redis up, got %s", got)
	}

	mr.Close()
	if got := checker.Check(context.Background()).Status; got != StatusDegraded {
		t.Errorf("Expected degraded with redis down, got %s", got)
	}
}

func TestHealthRoutes(t *testing.T) {
	checker, mock := newMockDB(t)
	mock.ExpectPing().WillReturnError(errors.New("down"))

	router := mux.NewRouter()
	RegisterHealthRoutes(router, checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness: expected 503, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Version == "" {
		t.Error("expected a version")
	}
}
