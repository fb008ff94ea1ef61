package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	logx "tokstat/pkg/logx"
)

func startTestServer(t *testing.T, checks map[string]HealthFunc, g prometheus.Gatherer) *Service {
	t.Helper()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, g, checks, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthzOK(t *testing.T) {
	s := startTestServer(t, map[string]HealthFunc{
		"store": func(ctx context.Context) error { return nil },
	}, prometheus.NewRegistry())

	code, body := get(t, "http://"+s.Addr()+"/healthz")
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", code, body)
	}
	if !strings.Contains(body, `"status":"ok"`) {
		t.Fatalf("body = %s", body)
	}
}

func TestHealthzDegraded(t *testing.T) {
	s := startTestServer(t, map[string]HealthFunc{
		"store": func(ctx context.Context) error { return errors.New("locked") },
	}, prometheus.NewRegistry())

	code, body := get(t, "http://"+s.Addr()+"/healthz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", code, body)
	}
	if !strings.Contains(body, "degraded") || !strings.Contains(body, "locked") {
		t.Fatalf("body = %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "tokstat_test_sweeps_total",
		Help: "test counter",
	})
	c.Add(3)

	s := startTestServer(t, nil, reg)

	code, body := get(t, "http://"+s.Addr()+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.Contains(body, "tokstat_test_sweeps_total 3") {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}
}

func TestDisabledServerDoesNotListen(t *testing.T) {
	s := New(Config{Enabled: false, Addr: "127.0.0.1:0"}, prometheus.NewRegistry(), nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("disabled server bound to %s", s.Addr())
	}
}
