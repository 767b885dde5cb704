package controllers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joaquinreyes/atelier-backend/pkg/config"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

func healthTestConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Env: "test"}}
}

func TestHealthLive(t *testing.T) {
	w := httptest.NewRecorder()
	HealthLive(healthTestConfig())(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("X-Atelier-Env"); got != "test" {
		t.Fatalf("env header = %q", got)
	}
}

func TestHealthReadyAllDependenciesUp(t *testing.T) {
	deps := map[string]Pinger{"redis": stubPinger{}, "cache": stubPinger{}}

	w := httptest.NewRecorder()
	HealthReady(healthTestConfig(), testLogger(), deps)(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHealthReadyReportsDownDependency(t *testing.T) {
	deps := map[string]Pinger{"redis": stubPinger{err: fmt.Errorf("connection refused")}}

	w := httptest.NewRecorder()
	HealthReady(healthTestConfig(), testLogger(), deps)(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHealthReadySkipsNilPingers(t *testing.T) {
	deps := map[string]Pinger{"db": nil}

	w := httptest.NewRecorder()
	HealthReady(healthTestConfig(), testLogger(), deps)(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
