package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tokstat/internal/track"
	logx "tokstat/pkg/logx"
)

// Fetcher obtains current counters for a video. Implemented by tiktok.Client.
type Fetcher interface {
	Stats(ctx context.Context, videoID, videoURL string) (track.MetricSnapshot, error)
}

// Notifier delivers one message to one chat. Implemented over the transport
// adapter; tests use fakes.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// MessageFunc renders the milestone notification text.
type MessageFunc func(item track.TrackedItem, milestone int64, m track.MetricSnapshot) string

type Config struct {
	SweepInterval time.Duration
	Threshold     int64
}

// Monitor runs the sweep loop: a single cron entry fires a full pass over
// every tracked record at a fixed interval. Items are processed serially;
// the upstream is rate-sensitive and the store writes must keep per-owner
// order.
type Monitor struct {
	store   track.Store
	fetch   Fetcher
	notify  Notifier
	message MessageFunc
	metrics *Metrics
	log     logx.Logger

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entryID cron.EntryID
	runCtx  context.Context

	// sweepMu serializes sweeps: a slow sweep must never overlap the next tick.
	sweepMu sync.Mutex
}

func New(cfg Config, store track.Store, fetch Fetcher, notify Notifier, message MessageFunc, metrics *Metrics, log logx.Logger) *Monitor {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 90 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = track.DefaultMilestoneThreshold
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		store:   store,
		fetch:   fetch,
		notify:  notify,
		message: message,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
	}
}

// Start registers the sweep entry and begins ticking. The first sweep runs
// one interval after start; there is no catch-up burst on boot.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil {
		return nil
	}
	m.runCtx = ctx

	c := cron.New()
	id, err := c.AddFunc(fmt.Sprintf("@every %s", m.cfg.SweepInterval), func() { m.Sweep(m.currentCtx()) })
	if err != nil {
		return fmt.Errorf("register sweep entry: %w", err)
	}
	m.c = c
	m.entryID = id
	c.Start()
	m.log.Info("monitor started", logx.Duration("interval", m.cfg.SweepInterval), logx.Int64("threshold", m.cfg.Threshold))
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish its
// current item. Store state is never corrupted by stopping: every mutation
// is already durable by the time it returns.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.c
	m.c = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}

	stopped := c.Stop() // context done when running jobs complete
	select {
	case <-stopped.Done():
		m.log.Info("monitor stopped")
		return nil
	case <-ctx.Done():
		m.log.Warn("monitor stop cancelled with sweep still running")
		return ctx.Err()
	}
}

// Apply picks up reloaded settings. An interval change re-registers the
// cron entry; a threshold change takes effect on the next sweep.
func (m *Monitor) Apply(cfg Config) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 90 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = track.DefaultMilestoneThreshold
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.cfg
	m.cfg = cfg
	if m.c == nil || cfg.SweepInterval == old.SweepInterval {
		return
	}
	m.c.Remove(m.entryID)
	id, err := m.c.AddFunc(fmt.Sprintf("@every %s", cfg.SweepInterval), func() { m.Sweep(m.currentCtx()) })
	if err != nil {
		// Should not happen for a plain @every spec; keep the old entry dead
		// rather than panicking mid-reload.
		m.log.Error("re-register sweep entry failed", logx.Err(err))
		return
	}
	m.entryID = id
	m.log.Info("sweep interval updated", logx.Duration("interval", cfg.SweepInterval))
}

func (m *Monitor) currentCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

func (m *Monitor) threshold() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Threshold
}

// Sweep performs one full pass: snapshot the tracked set, fetch each
// distinct video once, then update and evaluate every owner of it.
// Any per-item failure is logged and skipped; nothing aborts the sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	start := time.Now()
	items, err := m.store.ListAll(ctx)
	if err != nil {
		m.log.Error("sweep aborted: list tracked items", logx.Err(err))
		return
	}

	// One fetch per distinct video, owners fan out after.
	type group struct {
		url    string
		owners []track.TrackedItem
	}
	order := make([]string, 0, len(items))
	byVideo := make(map[string]*group, len(items))
	for _, it := range items {
		g, ok := byVideo[it.VideoID]
		if !ok {
			g = &group{url: it.VideoURL}
			byVideo[it.VideoID] = g
			order = append(order, it.VideoID)
		}
		g.owners = append(g.owners, it)
	}

	m.log.Info("sweep started", logx.Int("videos", len(order)), logx.Int("records", len(items)))

	checked := 0
	for _, videoID := range order {
		if ctx.Err() != nil {
			m.log.Warn("sweep interrupted", logx.Int("checked", checked))
			return
		}
		g := byVideo[videoID]
		m.sweepVideo(ctx, videoID, g.url, g.owners)
		checked += len(g.owners)
		if m.metrics != nil {
			m.metrics.ItemsCheckedTotal.Add(float64(len(g.owners)))
		}
	}

	if m.metrics != nil {
		m.metrics.SweepsTotal.Inc()
		m.metrics.SweepDurationSeconds.Observe(time.Since(start).Seconds())
	}
	m.log.Info("sweep finished", logx.Int("checked", checked), logx.Duration("took", time.Since(start)))
}

func (m *Monitor) sweepVideo(ctx context.Context, videoID, url string, owners []track.TrackedItem) {
	stats, err := m.fetch.Stats(ctx, videoID, url)
	if err != nil {
		// Upstream down and format drift look identical from here; both just
		// produce no update this cycle. The next sweep is the retry.
		if m.metrics != nil {
			m.metrics.FetchFailuresTotal.Inc()
		}
		m.log.Warn("video check skipped", logx.String("video_id", videoID), logx.Err(err))
		return
	}

	if err := m.store.AppendHistory(ctx, videoID, stats); err != nil {
		m.log.Warn("append history failed", logx.String("video_id", videoID), logx.Err(err))
	}

	th := m.threshold()
	for _, it := range owners {
		if err := m.store.UpdateMetrics(ctx, it.ChatID, it.VideoID, stats); err != nil {
			m.log.Warn("update metrics failed", logx.Int64("chat_id", it.ChatID), logx.String("video_id", it.VideoID), logx.Err(err))
			continue
		}

		milestone, fired := track.Evaluate(it.LastNotifiedMilestone, stats.Views, th)
		if !fired {
			continue
		}

		// Record before sending: at-most-once delivery. A failed send is a
		// lost notification, never a duplicate on the next sweep.
		if err := m.store.SetMilestone(ctx, it.ChatID, it.VideoID, milestone); err != nil {
			m.log.Error("record milestone failed", logx.Int64("chat_id", it.ChatID), logx.String("video_id", it.VideoID), logx.Err(err))
			continue
		}
		if m.metrics != nil {
			m.metrics.MilestonesFiredTotal.Inc()
		}

		text := ""
		if m.message != nil {
			text = m.message(it, milestone, stats)
		}
		if err := m.notify.Notify(ctx, it.ChatID, text); err != nil {
			if m.metrics != nil {
				m.metrics.NotifyFailuresTotal.Inc()
			}
			m.log.Warn("milestone notification lost", logx.Int64("chat_id", it.ChatID), logx.String("video_id", it.VideoID), logx.Int64("milestone", milestone), logx.Err(err))
			continue
		}
		m.log.Info("milestone notified", logx.Int64("chat_id", it.ChatID), logx.String("video_id", it.VideoID), logx.Int64("milestone", milestone))
	}
}
