package track

import "testing"

func TestEvaluate(t *testing.T) {
	const th = int64(50000)

	cases := []struct {
		name         string
		lastNotified int64
		views        int64
		want         int64
		fire         bool
	}{
		{"below first threshold", 0, 30000, 0, false},
		{"exactly at threshold", 0, 50000, 50000, true},
		{"first observation past threshold", 0, 75000, 50000, true},
		{"unchanged after notify", 50000, 75000, 0, false},
		{"single fire across many thresholds", 0, 162000, 150000, true},
		{"jump reports highest only", 0, 160000, 150000, true},
		{"already past", 150000, 162000, 0, false},
		{"next threshold after jump", 50000, 210000, 200000, true},
		{"zero views", 0, 0, 0, false},
		{"negative views", 0, -5, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, fired := Evaluate(tc.lastNotified, tc.views, th)
			if fired != tc.fire || got != tc.want {
				t.Fatalf("Evaluate(%d, %d) = (%d, %v), want (%d, %v)",
					tc.lastNotified, tc.views, got, fired, tc.want, tc.fire)
			}
		})
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	ms, fired := Evaluate(0, 162000, 50000)
	if !fired || ms != 150000 {
		t.Fatalf("first call = (%d, %v), want (150000, true)", ms, fired)
	}
	// Applying the result and re-evaluating the same views must be a no-op.
	if got, again := Evaluate(ms, 162000, 50000); again {
		t.Fatalf("second call fired %d, want no change", got)
	}
}

func TestEvaluateMonotonic(t *testing.T) {
	// The engine never reports a milestone at or below the recorded one,
	// even when views regress (upstream corrections happen).
	for _, views := range []int64{0, 49999, 100000, 149999, 150000} {
		if got, fired := Evaluate(150000, views, 50000); fired {
			t.Fatalf("views=%d fired %d below recorded milestone", views, got)
		}
	}
}

func TestEvaluateScenario(t *testing.T) {
	// Fresh item first observed at 75k, then flat, then a big jump.
	last := int64(0)

	ms, fired := Evaluate(last, 75000, 50000)
	if !fired || ms != 50000 {
		t.Fatalf("sweep 1 = (%d, %v), want (50000, true)", ms, fired)
	}
	last = ms

	if ms, fired = Evaluate(last, 75000, 50000); fired {
		t.Fatalf("sweep 2 fired %d, want no change", ms)
	}

	ms, fired = Evaluate(last, 210000, 50000)
	if !fired || ms != 200000 {
		t.Fatalf("sweep 3 = (%d, %v), want (200000, true)", ms, fired)
	}
}

func TestEvaluateDefaultThreshold(t *testing.T) {
	// threshold <= 0 falls back to the default step.
	ms, fired := Evaluate(0, DefaultMilestoneThreshold+1, 0)
	if !fired || ms != DefaultMilestoneThreshold {
		t.Fatalf("got (%d, %v), want (%d, true)", ms, fired, DefaultMilestoneThreshold)
	}
}
