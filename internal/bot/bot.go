// Package bot implements the chat-facing surface: commands, link intake and
// inline keyboard callbacks. It talks to the transport through the Adapter
// interface and owns no tracking logic beyond wiring store and client calls.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"tokstat/internal/tiktok"
	"tokstat/internal/track"
	"tokstat/internal/transport"
	logx "tokstat/pkg/logx"
)

// StatsClient is the slice of tiktok.Client the bot needs.
type StatsClient interface {
	Stats(ctx context.Context, videoID, videoURL string) (track.MetricSnapshot, error)
	ResolveRedirect(ctx context.Context, shortURL string) (string, error)
}

var menuCommands = []transport.BotCommand{
	{Command: "start", Description: "What this bot does"},
	{Command: "list", Description: "Your tracked videos"},
	{Command: "stats", Description: "One-shot stats for a link"},
	{Command: "help", Description: "Usage help"},
}

type Service struct {
	adapter  transport.Adapter
	store    track.Store
	client   StatsClient
	interval func() time.Duration // current sweep interval, for user-facing text
	log      logx.Logger

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	updates chan transport.Update
}

func New(adapter transport.Adapter, store track.Store, client StatsClient, interval func() time.Duration, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		adapter:  adapter,
		store:    store,
		client:   client,
		interval: interval,
		log:      log,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = true
	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.updates = make(chan transport.Update, 128)
	s.runMu.Unlock()

	if err := s.adapter.Start(rctx, s.updates); err != nil {
		cancel()
		return err
	}

	if mu, ok := s.adapter.(transport.CommandMenuUpdater); ok {
		mctx, mcancel := context.WithTimeout(rctx, 10*time.Second)
		if err := mu.UpdateMenuCommands(mctx, menuCommands); err != nil {
			s.log.Warn("menu update failed", logx.Err(err))
		}
		mcancel()
	}

	s.wg.Add(1)
	go s.loop(rctx)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.runMu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-s.updates:
			// Handle concurrently: an interactive fetch can take the full
			// fetch timeout and must not stall other chats.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handle(ctx, up)
			}()
		}
	}
}

func (s *Service) handle(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			s.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			s.handleCallback(ctx, up.Callback)
		}
	}
}

func (s *Service) handleMessage(ctx context.Context, msg *transport.Message) {
	text := strings.TrimSpace(msg.Text)
	to := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if strings.HasPrefix(text, "/") {
		cmd, arg, _ := strings.Cut(text, " ")
		cmd = strings.TrimPrefix(cmd, "/")
		// "/list@botname" in groups
		cmd, _, _ = strings.Cut(cmd, "@")
		s.handleCommand(ctx, to, cmd, strings.TrimSpace(arg))
		return
	}

	if tiktok.IsVideoLink(text) {
		s.handleLink(ctx, to, text)
		return
	}

	s.reply(ctx, to, "❌ Please send a valid TikTok video link.")
}

func (s *Service) handleCommand(ctx context.Context, to transport.ChatTarget, cmd, arg string) {
	switch cmd {
	case "start":
		s.reply(ctx, to, welcomeText)
	case "help":
		s.reply(ctx, to, helpText)
	case "list":
		items, err := s.store.ListFor(ctx, to.ChatID)
		if err != nil {
			s.log.Error("list failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			s.reply(ctx, to, "❌ Something went wrong, try again later.")
			return
		}
		s.reply(ctx, to, listText(items))
	case "stats":
		s.handleOneShot(ctx, to, arg)
	default:
		s.reply(ctx, to, "Unknown command. Try /help.")
	}
}

// handleLink is the main intake path: a pasted link becomes a tracked video.
func (s *Service) handleLink(ctx context.Context, to transport.ChatTarget, link string) {
	ref, sendErr := s.adapter.SendText(ctx, to, "🔍 Checking the video…", nil)

	videoID, err := tiktok.ExtractVideoID(ctx, link, s.client)
	if err != nil {
		// Bad input, not a fault; tell the user and move on.
		s.edit(ctx, to, ref, sendErr, "❌ Couldn't extract a video id from that link.", nil)
		return
	}

	stats, err := s.client.Stats(ctx, videoID, link)
	if err != nil {
		s.log.Info("interactive fetch failed", logx.String("video_id", videoID), logx.Err(err))
		s.edit(ctx, to, ref, sendErr, "❌ Couldn't fetch stats for that video. Check the link or try again later.", nil)
		return
	}

	res, err := s.store.Add(ctx, to.ChatID, videoID, link, stats)
	if err != nil {
		s.log.Error("add failed", logx.Int64("chat_id", to.ChatID), logx.String("video_id", videoID), logx.Err(err))
		s.edit(ctx, to, ref, sendErr, "❌ Something went wrong, try again later.", nil)
		return
	}

	kb := videoKeyboard(videoID)
	if res == track.AlreadyTracked {
		// Not an error; refresh what we have and say so.
		if err := s.store.UpdateMetrics(ctx, to.ChatID, videoID, stats); err != nil {
			s.log.Warn("update on duplicate add failed", logx.String("video_id", videoID), logx.Err(err))
		}
		s.edit(ctx, to, ref, sendErr, "ℹ️ Already tracking this video.\n\n"+statsLines(stats), kb)
		return
	}

	if err := s.store.AppendHistory(ctx, videoID, stats); err != nil {
		s.log.Warn("append history failed", logx.String("video_id", videoID), logx.Err(err))
	}

	interval := ""
	if s.interval != nil {
		interval = s.interval().String()
	}
	s.edit(ctx, to, ref, sendErr, trackedText(stats, interval), kb)
	s.log.Info("video tracked", logx.Int64("chat_id", to.ChatID), logx.String("video_id", videoID))
}

// handleOneShot serves /stats <link>: a display-only check that never
// touches milestone bookkeeping.
func (s *Service) handleOneShot(ctx context.Context, to transport.ChatTarget, arg string) {
	if arg == "" || !tiktok.IsVideoLink(arg) {
		s.reply(ctx, to, "Usage: /stats <tiktok video link>")
		return
	}
	videoID, err := tiktok.ExtractVideoID(ctx, arg, s.client)
	if err != nil {
		s.reply(ctx, to, "❌ Couldn't extract a video id from that link.")
		return
	}
	stats, err := s.client.Stats(ctx, videoID, arg)
	if err != nil {
		s.reply(ctx, to, "❌ Couldn't fetch stats for that video. Try again later.")
		return
	}
	s.reply(ctx, to, "📊 Current stats:\n\n"+statsLines(stats))
}

func (s *Service) handleCallback(ctx context.Context, cb *transport.Callback) {
	// Stop the client-side spinner regardless of the outcome.
	if err := s.adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
		s.log.Debug("answer callback failed", logx.Err(err))
	}

	to := transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	ref := transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	action, videoID := parseCallback(cb.Data)

	switch action {
	case cbRefresh:
		s.refreshVideo(ctx, to, ref, videoID)
	case cbDelete:
		res, err := s.store.Remove(ctx, cb.ChatID, videoID)
		if err != nil {
			s.log.Error("remove failed", logx.Int64("chat_id", cb.ChatID), logx.String("video_id", videoID), logx.Err(err))
			return
		}
		if res == track.NotTracked {
			s.editRef(ctx, ref, "ℹ️ This video is not tracked.", nil)
			return
		}
		s.editRef(ctx, ref, "✅ Video removed from tracking.", nil)
		s.log.Info("video untracked", logx.Int64("chat_id", cb.ChatID), logx.String("video_id", videoID))
	default:
		s.log.Debug("unknown callback", logx.String("data", cb.Data))
	}
}

func (s *Service) refreshVideo(ctx context.Context, to transport.ChatTarget, ref transport.MessageRef, videoID string) {
	url := ""
	if items, err := s.store.ListFor(ctx, to.ChatID); err == nil {
		for _, it := range items {
			if it.VideoID == videoID {
				url = it.VideoURL
				break
			}
		}
	}

	stats, err := s.client.Stats(ctx, videoID, url)
	if err != nil {
		s.log.Info("interactive refresh failed", logx.String("video_id", videoID), logx.Err(err))
		s.editRef(ctx, ref, "❌ Couldn't refresh stats. Try again later.", videoKeyboard(videoID))
		return
	}

	if err := s.store.UpdateMetrics(ctx, to.ChatID, videoID, stats); err != nil {
		s.log.Warn("refresh update failed", logx.String("video_id", videoID), logx.Err(err))
	}
	if err := s.store.AppendHistory(ctx, videoID, stats); err != nil {
		s.log.Warn("append history failed", logx.String("video_id", videoID), logx.Err(err))
	}
	s.editRef(ctx, ref, refreshedText(stats), videoKeyboard(videoID))
}

func (s *Service) reply(ctx context.Context, to transport.ChatTarget, text string) {
	if _, err := s.adapter.SendText(ctx, to, text, &transport.SendOptions{DisablePreview: true}); err != nil {
		s.log.Warn("send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

// edit updates the placeholder message, or falls back to a fresh send when
// the placeholder itself never went out.
func (s *Service) edit(ctx context.Context, to transport.ChatTarget, ref transport.MessageRef, sendErr error, text string, markup any) {
	if sendErr != nil {
		opt := &transport.SendOptions{DisablePreview: true, ReplyMarkupAdapter: markup}
		if _, err := s.adapter.SendText(ctx, to, text, opt); err != nil {
			s.log.Warn("send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		}
		return
	}
	s.editRef(ctx, ref, text, markup)
}

func (s *Service) editRef(ctx context.Context, ref transport.MessageRef, text string, markup any) {
	opt := &transport.SendOptions{DisablePreview: true, ReplyMarkupAdapter: markup}
	if err := s.adapter.EditText(ctx, ref, text, opt); err != nil {
		s.log.Warn("edit failed", logx.Int64("chat_id", ref.ChatID), logx.Err(err))
	}
}

// Notifier adapts the transport for the monitor's milestone deliveries.
type Notifier struct {
	Adapter transport.Adapter
}

func (n Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	if n.Adapter == nil {
		return errors.New("no adapter")
	}
	_, err := n.Adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{DisablePreview: true})
	return err
}
