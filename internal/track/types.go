package track

import (
	"context"
	"errors"
	"time"
)

// MetricSnapshot is the normalized counter set produced by the stats
// extractor. It is ephemeral: consumed by the milestone engine and the
// store, never persisted on its own.
type MetricSnapshot struct {
	Views     int64
	Likes     int64
	Shares    int64
	Favorites int64
}

// AllZero reports whether every counter is zero. An all-zero snapshot almost
// always means a parse failure upstream, not a genuinely unwatched video.
func (m MetricSnapshot) AllZero() bool {
	return m.Views == 0 && m.Likes == 0 && m.Shares == 0 && m.Favorites == 0
}

// TrackedItem is one (owner chat, video) tracking record.
// Owned exclusively by the Store; callers treat it as a value.
type TrackedItem struct {
	ChatID                int64
	VideoID               string
	VideoURL              string
	LastViews             int64
	LastLikes             int64
	LastShares            int64
	LastFavorites         int64
	LastNotifiedMilestone int64
	AddedAt               time.Time
}

type AddResult int

const (
	Added AddResult = iota
	AlreadyTracked
)

type RemoveResult int

const (
	Removed RemoveResult = iota
	NotTracked
)

var ErrNotTracked = errors.New("video is not tracked")

// Store is the durable (chat, video) tracking state.
//
// Every mutation is committed before the call returns; a crash mid-sweep
// loses at most the in-memory snapshot being processed, never recorded state.
type Store interface {
	// Add records a new tracked video with its initial metrics.
	// Idempotent: a duplicate (chat, video) pair returns AlreadyTracked and
	// leaves the existing record untouched.
	Add(ctx context.Context, chatID int64, videoID, videoURL string, m MetricSnapshot) (AddResult, error)

	// Remove deletes one owner's tracking record for a video.
	Remove(ctx context.Context, chatID int64, videoID string) (RemoveResult, error)

	// ListFor returns a chat's tracked videos in insertion order.
	ListFor(ctx context.Context, chatID int64) ([]TrackedItem, error)

	// ListAll returns every tracked record across chats, insertion order.
	ListAll(ctx context.Context) ([]TrackedItem, error)

	// UpdateMetrics overwrites the last-known counters. It is a no-op when
	// the record no longer exists (race with a concurrent removal).
	UpdateMetrics(ctx context.Context, chatID int64, videoID string, m MetricSnapshot) error

	// SetMilestone durably records the last notified milestone.
	SetMilestone(ctx context.Context, chatID int64, videoID string, milestone int64) error

	// AppendHistory appends one observation to the per-video history log.
	AppendHistory(ctx context.Context, videoID string, m MetricSnapshot) error

	Close() error
}
