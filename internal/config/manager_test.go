package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

const validYAML = `
telegram:
  token: "123:abc"
storage:
  path: "./test.db"
monitor:
  sweep_interval: "45m"
  milestone_threshold: 100000
tiktok:
  rate_per_min: 10
  rapidapi:
    key: "secret"
web:
  enabled: true
  addr: "127.0.0.1:9090"
`

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	iv, err := cfg.SweepInterval()
	if err != nil || iv != 45*time.Minute {
		t.Errorf("SweepInterval = (%v, %v)", iv, err)
	}
	if cfg.MilestoneThreshold() != 100000 {
		t.Errorf("MilestoneThreshold = %d", cfg.MilestoneThreshold())
	}
	if cfg.RatePerMin() != 10 {
		t.Errorf("RatePerMin = %d", cfg.RatePerMin())
	}
	if cfg.RapidAPIKey() != "secret" {
		t.Errorf("RapidAPIKey = %q", cfg.RapidAPIKey())
	}
	if cfg.RapidAPIHost() != DefaultRapidAPIHost {
		t.Errorf("RapidAPIHost = %q, want default", cfg.RapidAPIHost())
	}
	if cfg.WebAddr() != "127.0.0.1:9090" {
		t.Errorf("WebAddr = %q", cfg.WebAddr())
	}

	if got := m.Get(); got != cfg {
		t.Errorf("Get returned a different config pointer")
	}
}

func TestLoadJSONEquivalent(t *testing.T) {
	body := `{
  "telegram": {"token": "123:abc"},
  "storage": {"path": "./test.db"},
  "monitor": {"sweep_interval": "45m"}
}`
	m := NewManager(writeConfig(t, "config.json", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if iv, _ := cfg.SweepInterval(); iv != 45*time.Minute {
		t.Errorf("SweepInterval = %v", iv)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	body := `
telegram:
  token: "123:abc"
  tokenn: "typo"
storage:
  path: "./test.db"
`
	m := NewManager(writeConfig(t, "config.yaml", body))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("Load err = %v, want unknown field error", err)
	}
}

func TestDefaultsWhenOmitted(t *testing.T) {
	body := `
telegram:
  token: "123:abc"
storage:
  path: "./test.db"
`
	m := NewManager(writeConfig(t, "config.yaml", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if iv, _ := cfg.SweepInterval(); iv != DefaultSweepInterval {
		t.Errorf("SweepInterval = %v, want %v", iv, DefaultSweepInterval)
	}
	if cfg.MilestoneThreshold() != DefaultMilestoneThreshold {
		t.Errorf("MilestoneThreshold = %d", cfg.MilestoneThreshold())
	}
	if ft, _ := cfg.FetchTimeout(); ft != DefaultFetchTimeout {
		t.Errorf("FetchTimeout = %v", ft)
	}
	if cfg.RatePerMin() != DefaultRatePerMin {
		t.Errorf("RatePerMin = %d", cfg.RatePerMin())
	}
	if cfg.WebAddr() != DefaultWebAddr {
		t.Errorf("WebAddr = %q", cfg.WebAddr())
	}
	if cfg.RapidAPIKey() != "" {
		t.Errorf("RapidAPIKey = %q, want empty without rapidapi section", cfg.RapidAPIKey())
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing token",
			body: "storage:\n  path: './t.db'\n",
			want: "telegram.token",
		},
		{
			name: "missing storage path",
			body: "telegram:\n  token: 'x'\n",
			want: "storage.path",
		},
		{
			name: "sweep interval too short",
			body: "telegram:\n  token: 'x'\nstorage:\n  path: './t.db'\nmonitor:\n  sweep_interval: '10s'\n",
			want: "sweep_interval",
		},
		{
			name: "bad duration string",
			body: "telegram:\n  token: 'x'\nstorage:\n  path: './t.db'\nmonitor:\n  sweep_interval: 'ninety minutes'\n",
			want: "sweep_interval",
		},
		{
			name: "negative threshold",
			body: "telegram:\n  token: 'x'\nstorage:\n  path: './t.db'\nmonitor:\n  milestone_threshold: -1\n",
			want: "milestone_threshold",
		},
		{
			name: "fetch timeout too long",
			body: "telegram:\n  token: 'x'\nstorage:\n  path: './t.db'\ntiktok:\n  fetch_timeout: '10m'\n",
			want: "fetch_timeout",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, "config.yaml", c.body))
			_, err := m.Load()
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("Load err = %v, want mention of %q", err, c.want)
			}
		})
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	body := `{"telegram": {"token": "x"}, "storage": {"path": "./t.db"}}{"extra": 1}`
	m := NewManager(writeConfig(t, "config.json", body))
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse accepted concatenated JSON documents")
	}
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	next := &Config{}
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-sub:
		if got != next {
			t.Fatalf("subscriber got %p, want %p", got, next)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive published config")
	}
}
