package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthcheck(t *testing.T) {
	router := newRouter(time.Now(), func(context.Context) (map[string]int64, error) {
		return nil, nil
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestRunnerStatus(t *testing.T) {
	router := newRouter(time.Now(), func(context.Context) (map[string]int64, error) {
		return map[string]int64{"running": 3, "stopped": 1}, nil
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runner/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status RunnerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.Status != "running" {
		t.Fatalf("unexpected status: %q", status.Status)
	}
	if status.Bots["running"] != 3 {
		t.Fatalf("unexpected bot counts: %v", status.Bots)
	}
}

func TestRunnerStatusProviderFailure(t *testing.T) {
	router := newRouter(time.Now(), func(context.Context) (map[string]int64, error) {
		return nil, errors.New("db down")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runner/status", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
