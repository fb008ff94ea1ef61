package config

import (
	"testing"
	"time"
)

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"90m", 90 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"30s", 30 * time.Second, false},
		{"-5s", 0, true},
		{"ninety", 0, true},
		{"5", 0, true}, // bare numbers are ambiguous, require a unit
	}
	for _, c := range cases {
		got, err := ParseDurationField("test.field", c.raw)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseDurationField(%q): want error", c.raw)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("ParseDurationField(%q) = (%v, %v), want %v", c.raw, got, err, c.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	if d, err := ParseDurationOrDefault("f", "", time.Minute); err != nil || d != time.Minute {
		t.Errorf("empty = (%v, %v), want default", d, err)
	}
	if d, err := ParseDurationOrDefault("f", "2m", time.Minute); err != nil || d != 2*time.Minute {
		t.Errorf("explicit = (%v, %v)", d, err)
	}
	if _, err := ParseDurationOrDefault("f", "bogus", time.Minute); err == nil {
		t.Error("bogus duration accepted")
	}
}
