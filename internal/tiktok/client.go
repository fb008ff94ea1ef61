package tiktok

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tokstat/internal/track"
	logx "tokstat/pkg/logx"
)

var (
	// ErrNoStats means the upstream answered but no usable counters were
	// found. Indistinguishable by policy from the upstream being down: both
	// just produce no update this cycle.
	ErrNoStats = errors.New("no stats in upstream response")

	// ErrUpstream covers timeouts, non-200 responses and rate-limit signals.
	ErrUpstream = errors.New("upstream unavailable")
)

const (
	browserUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodySize = 4 << 20
)

type ClientConfig struct {
	FetchTimeout time.Duration // default 30s
	RatePerMin   int           // default 20; outbound request budget
	RapidAPIKey  string        // empty disables the proxy API
	RapidAPIHost string        // default tiktok-scraper2.p.rapidapi.com
}

// Client fetches video metadata from the upstream, through the RapidAPI
// proxy when configured and the public video page otherwise. One limiter
// covers both the sweep and interactive paths: the upstream rate-limits
// aggressively and does not care which of our code paths asked.
type Client struct {
	mu   sync.RWMutex
	cfg  ClientConfig
	http *http.Client
	lim  *rate.Limiter
	log  logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{log: log}
	c.Apply(cfg)
	return c
}

// Apply swaps fetch settings at runtime (config hot reload).
func (c *Client) Apply(cfg ClientConfig) {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = 20
	}
	if strings.TrimSpace(cfg.RapidAPIHost) == "" {
		cfg.RapidAPIHost = "tiktok-scraper2.p.rapidapi.com"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.http = &http.Client{Timeout: cfg.FetchTimeout}
	c.lim = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), max(1, cfg.RatePerMin/4))
}

func (c *Client) snapshot() (ClientConfig, *http.Client, *rate.Limiter) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.http, c.lim
}

// ResolveRedirect follows a short link to its canonical URL.
func (c *Client) ResolveRedirect(ctx context.Context, shortURL string) (string, error) {
	_, hc, lim := c.snapshot()
	if err := lim.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	// Body content is irrelevant; only the final URL after redirects matters.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String(), nil
	}
	return shortURL, nil
}

// Stats fetches and extracts the current counters for a video.
//
// With a RapidAPI key configured the proxy endpoint is tried first; the
// public page is the fallback. Without a key only the page is fetched.
// Returns ErrNoStats when every source answered but none yielded counters.
func (c *Client) Stats(ctx context.Context, videoID, videoURL string) (track.MetricSnapshot, error) {
	cfg, _, lim := c.snapshot()

	if err := lim.Wait(ctx); err != nil {
		return track.MetricSnapshot{}, err
	}

	var lastErr error
	if cfg.RapidAPIKey != "" {
		m, err := c.statsFromAPI(ctx, videoID)
		if err == nil {
			return m, nil
		}
		lastErr = err
		c.log.Debug("proxy api fetch failed; trying page", logx.String("video_id", videoID), logx.Err(err))
	}

	m, err := c.statsFromPage(ctx, videoID, videoURL)
	if err == nil {
		return m, nil
	}
	if lastErr != nil && errors.Is(err, ErrNoStats) && !errors.Is(lastErr, ErrNoStats) {
		// Prefer reporting the transport failure over "page had no stats".
		return track.MetricSnapshot{}, lastErr
	}
	return track.MetricSnapshot{}, err
}

func (c *Client) statsFromAPI(ctx context.Context, videoID string) (track.MetricSnapshot, error) {
	cfg, hc, _ := c.snapshot()

	u := url.URL{
		Scheme:   "https",
		Host:     cfg.RapidAPIHost,
		Path:     "/video/info",
		RawQuery: url.Values{"video_id": {videoID}}.Encode(),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return track.MetricSnapshot{}, err
	}
	req.Header.Set("X-RapidAPI-Key", cfg.RapidAPIKey)
	req.Header.Set("X-RapidAPI-Host", cfg.RapidAPIHost)

	body, err := c.do(hc, req)
	if err != nil {
		return track.MetricSnapshot{}, err
	}
	if m, ok := ExtractStats(body); ok {
		return m, nil
	}
	return track.MetricSnapshot{}, ErrNoStats
}

func (c *Client) statsFromPage(ctx context.Context, videoID, videoURL string) (track.MetricSnapshot, error) {
	_, hc, _ := c.snapshot()

	pageURL := strings.TrimSpace(videoURL)
	if pageURL == "" {
		pageURL = "https://www.tiktok.com/@_/video/" + videoID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return track.MetricSnapshot{}, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	body, err := c.do(hc, req)
	if err != nil {
		return track.MetricSnapshot{}, err
	}
	if m, ok := ExtractStats(body); ok {
		return m, nil
	}
	return track.MetricSnapshot{}, ErrNoStats
}

func (c *Client) do(hc *http.Client, req *http.Request) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return body, nil
}
