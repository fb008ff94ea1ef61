package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tokstat/internal/track"
	logx "tokstat/pkg/logx"
)

type fakeFetcher struct {
	stats map[string]track.MetricSnapshot
	errs  map[string]error
	calls map[string]int
}

func (f *fakeFetcher) Stats(ctx context.Context, videoID, videoURL string) (track.MetricSnapshot, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[videoID]++
	if err, ok := f.errs[videoID]; ok {
		return track.MetricSnapshot{}, err
	}
	return f.stats[videoID], nil
}

type fakeNotifier struct {
	sent []string // "chatID:text"
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	n.sent = append(n.sent, fmt.Sprintf("%d:%s", chatID, text))
	return n.err
}

func testMessage(it track.TrackedItem, milestone int64, m track.MetricSnapshot) string {
	return fmt.Sprintf("%s@%d", it.VideoID, milestone)
}

func newTestMonitor(t *testing.T, fetch *fakeFetcher, notify *fakeNotifier) (*Monitor, track.Store) {
	t.Helper()
	st, err := track.Open(track.Config{Path: filepath.Join(t.TempDir(), "m.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	metrics := NewMetrics(prometheus.NewRegistry())
	m := New(Config{SweepInterval: time.Hour, Threshold: 50000}, st, fetch, notify, testMessage, metrics, logx.Nop())
	return m, st
}

func TestSweepFetchesEachVideoOnce(t *testing.T) {
	ctx := context.Background()
	fetch := &fakeFetcher{stats: map[string]track.MetricSnapshot{
		"v1": {Views: 10},
		"v2": {Views: 20},
	}}
	notify := &fakeNotifier{}
	m, st := newTestMonitor(t, fetch, notify)

	// v1 tracked by two chats, v2 by one.
	for _, chat := range []int64{1, 2} {
		if _, err := st.Add(ctx, chat, "v1", "u1", track.MetricSnapshot{Views: 1}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if _, err := st.Add(ctx, 1, "v2", "u2", track.MetricSnapshot{Views: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	m.Sweep(ctx)

	if fetch.calls["v1"] != 1 || fetch.calls["v2"] != 1 {
		t.Fatalf("fetch calls = %v, want one per distinct video", fetch.calls)
	}

	items, err := st.ListFor(ctx, 2)
	if err != nil || len(items) != 1 {
		t.Fatalf("ListFor = (%v, %v)", items, err)
	}
	if items[0].LastViews != 10 {
		t.Fatalf("metrics not updated for second owner: %+v", items[0])
	}
}

func TestSweepFiresSingleHighestMilestone(t *testing.T) {
	ctx := context.Background()
	fetch := &fakeFetcher{stats: map[string]track.MetricSnapshot{"v": {Views: 162000}}}
	notify := &fakeNotifier{}
	m, st := newTestMonitor(t, fetch, notify)

	if _, err := st.Add(ctx, 9, "v", "u", track.MetricSnapshot{Views: 30000}); err != nil {
		t.Fatalf("add: %v", err)
	}

	m.Sweep(ctx)

	if len(notify.sent) != 1 || notify.sent[0] != "9:v@150000" {
		t.Fatalf("sent = %v, want exactly one 150000 notification", notify.sent)
	}

	// Same views next sweep: nothing new fires.
	m.Sweep(ctx)
	if len(notify.sent) != 1 {
		t.Fatalf("second sweep re-fired: %v", notify.sent)
	}
}

func TestSweepAbsorbsPerItemFailures(t *testing.T) {
	ctx := context.Background()
	fetch := &fakeFetcher{
		stats: map[string]track.MetricSnapshot{"good": {Views: 60000}},
		errs:  map[string]error{"bad": errors.New("status 429")},
	}
	notify := &fakeNotifier{}
	m, st := newTestMonitor(t, fetch, notify)

	// The failing video sorts first by insertion; the good one must still be
	// processed.
	if _, err := st.Add(ctx, 1, "bad", "ub", track.MetricSnapshot{Views: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.Add(ctx, 1, "good", "ug", track.MetricSnapshot{Views: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	m.Sweep(ctx)

	if len(notify.sent) != 1 || notify.sent[0] != "1:good@50000" {
		t.Fatalf("sent = %v, want the good video's milestone", notify.sent)
	}

	items, err := st.ListFor(ctx, 1)
	if err != nil || len(items) != 2 {
		t.Fatalf("ListFor = (%v, %v)", items, err)
	}
	if items[0].LastViews != 1 {
		t.Fatalf("failed item's metrics changed: %+v", items[0])
	}
}

func TestSweepRecordsMilestoneEvenWhenDeliveryFails(t *testing.T) {
	ctx := context.Background()
	fetch := &fakeFetcher{stats: map[string]track.MetricSnapshot{"v": {Views: 55000}}}
	notify := &fakeNotifier{err: errors.New("blocked by user")}
	m, st := newTestMonitor(t, fetch, notify)

	if _, err := st.Add(ctx, 4, "v", "u", track.MetricSnapshot{Views: 100}); err != nil {
		t.Fatalf("add: %v", err)
	}

	m.Sweep(ctx)

	items, err := st.ListFor(ctx, 4)
	if err != nil || len(items) != 1 {
		t.Fatalf("ListFor = (%v, %v)", items, err)
	}
	if items[0].LastNotifiedMilestone != 50000 {
		t.Fatalf("milestone = %d, want 50000 recorded despite delivery failure", items[0].LastNotifiedMilestone)
	}

	// Delivery recovers; the lost milestone is not re-sent.
	notify.err = nil
	m.Sweep(ctx)
	for _, s := range notify.sent[1:] {
		if s == "4:v@50000" {
			t.Fatalf("lost milestone was retried: %v", notify.sent)
		}
	}
}

func TestSweepOwnersEvaluateIndependently(t *testing.T) {
	ctx := context.Background()
	fetch := &fakeFetcher{stats: map[string]track.MetricSnapshot{"v": {Views: 120000}}}
	notify := &fakeNotifier{}
	m, st := newTestMonitor(t, fetch, notify)

	if _, err := st.Add(ctx, 1, "v", "u", track.MetricSnapshot{Views: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.Add(ctx, 2, "v", "u", track.MetricSnapshot{Views: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Chat 2 was already notified at 100k.
	if err := st.SetMilestone(ctx, 2, "v", 100000); err != nil {
		t.Fatalf("SetMilestone: %v", err)
	}

	m.Sweep(ctx)

	if len(notify.sent) != 1 || notify.sent[0] != "1:v@100000" {
		t.Fatalf("sent = %v, want only chat 1 notified", notify.sent)
	}
}
