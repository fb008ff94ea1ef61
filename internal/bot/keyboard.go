package bot

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

const (
	cbRefresh = "refresh"
	cbDelete  = "delete"
)

// videoKeyboard builds the inline refresh/delete keyboard attached to every
// stats message. The markup is Telegram-specific by nature; it rides through
// the transport layer as an opaque adapter value.
func videoKeyboard(videoID string) *tele.ReplyMarkup {
	mk := &tele.ReplyMarkup{}
	mk.Inline(
		mk.Row(mk.Data("🔄 Refresh", cbRefresh, videoID)),
		mk.Row(mk.Data("❌ Stop tracking", cbDelete, videoID)),
	)
	return mk
}

// parseCallback splits telebot-style callback data ("\f<unique>|<payload>")
// into its action and payload.
func parseCallback(data string) (action, payload string) {
	data = strings.TrimPrefix(data, "\f")
	action, payload, _ = strings.Cut(data, "|")
	return action, payload
}
