package bot

import (
	"fmt"
	"strconv"
	"strings"

	"tokstat/internal/track"
)

const welcomeText = `🎵 TikTok Stats Monitor

Send me a link to a TikTok video and I will track its statistics.

Commands:
/start – show this message
/list – your tracked videos
/stats <link> – one-shot stats check
/help – how it works

Just paste a video link to start tracking!`

const helpText = `📖 How it works

1. Send a link to a TikTok video
2. The bot starts tracking its statistics
3. You get a message every time the video crosses a new view milestone

Link formats:
• https://www.tiktok.com/@user/video/1234567890123456789
• https://vm.tiktok.com/ZSJxxxxxxxx/
• https://vt.tiktok.com/ZSJxxxxxxxx/

Commands:
/list – your tracked videos
/stats <link> – current stats without tracking changes`

// FormatCount renders 1234567 as "1,234,567".
func FormatCount(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func statsLines(m track.MetricSnapshot) string {
	return fmt.Sprintf("👁️ Views: %s\n❤️ Likes: %s\n↩️ Shares: %s\n⭐ Favorites: %s",
		FormatCount(m.Views), FormatCount(m.Likes), FormatCount(m.Shares), FormatCount(m.Favorites))
}

func trackedText(m track.MetricSnapshot, interval string) string {
	var b strings.Builder
	b.WriteString("✅ Video added for tracking!\n\n📊 Current stats:\n")
	b.WriteString(statsLines(m))
	if interval != "" {
		b.WriteString("\n\nStats are checked every " + interval + ".")
	}
	return b.String()
}

func refreshedText(m track.MetricSnapshot) string {
	return "📊 Updated stats:\n\n" + statsLines(m)
}

func listText(items []track.TrackedItem) string {
	if len(items) == 0 {
		return "📭 You have no tracked videos."
	}
	var b strings.Builder
	b.WriteString("📋 Your tracked videos:\n\n")
	for i, it := range items {
		url := it.VideoURL
		if len(url) > 60 {
			url = url[:60] + "…"
		}
		fmt.Fprintf(&b, "%d. %s\n   👁️ %s | ❤️ %s | ↩️ %s | ⭐ %s\n",
			i+1, url,
			FormatCount(it.LastViews), FormatCount(it.LastLikes),
			FormatCount(it.LastShares), FormatCount(it.LastFavorites))
		if it.LastNotifiedMilestone > 0 {
			fmt.Fprintf(&b, "   🏁 last milestone: %s views\n", FormatCount(it.LastNotifiedMilestone))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// MilestoneMessage renders the notification the monitor sends when a video
// crosses a view threshold. Wired into the monitor at startup.
func MilestoneMessage(it track.TrackedItem, milestone int64, m track.MetricSnapshot) string {
	return fmt.Sprintf("🎉 Your video crossed %s views!\n\n%s\n\n%s",
		FormatCount(milestone), statsLines(m), it.VideoURL)
}
