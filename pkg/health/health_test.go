package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.RegisterPing("bus", false, func(context.Context) error { return nil })
	c.RegisterPing("cache", true, func(context.Context) error { return errors.New("refused") })

	report := c.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	if report.Components["cache"].Message != "refused" {
		t.Errorf("cache message = %q", report.Components["cache"].Message)
	}

	c.RegisterPing("metadata", false, func(context.Context) error { return errors.New("down") })
	if got := c.Run(context.Background()).Status; got != StatusDown {
		t.Errorf("status = %s, want down", got)
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name     string
		optional bool
		want     int
	}{
		{"required dependency down", false, http.StatusServiceUnavailable},
		{"optional dependency down", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.RegisterPing("dep", tt.optional, func(context.Context) error { return errors.New("x") })
			mux := http.NewServeMux()
			c.Mount(mux)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
			var report Report
			if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, ok := report.Components["dep"]; !ok {
				t.Error("report missing component")
			}
		})
	}
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d", rec.Code)
	}
}
