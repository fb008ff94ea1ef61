package track

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tokstat/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite tracking store.
//
// A store file that exists but cannot be opened or migrated is a fatal
// condition: the daemon must not come up pretending the tracking state is
// empty when it is merely unreadable.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	existed := false
	if _, err := os.Stat(path); err == nil {
		existed = true
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		if existed {
			return nil, fmt.Errorf("store file %s exists but is unusable (refusing to start empty): %w", path, err)
		}
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	// Sanity read so a corrupt database surfaces here, not mid-sweep.
	var n int64
	return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracked_items`).Scan(&n)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Add(ctx context.Context, chatID int64, videoID, videoURL string, m MetricSnapshot) (AddResult, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_items(chat_id, video_id, video_url, last_views, last_likes, last_shares, last_favorites, last_notified_milestone, added_at)
		 VALUES(?,?,?,?,?,?,?,0,?)
		 ON CONFLICT(chat_id, video_id) DO NOTHING`,
		chatID, videoID, videoURL, m.Views, m.Likes, m.Shares, m.Favorites,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return AlreadyTracked, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return AlreadyTracked, err
	}
	if n == 0 {
		return AlreadyTracked, nil
	}
	return Added, nil
}

func (s *sqliteStore) Remove(ctx context.Context, chatID int64, videoID string) (RemoveResult, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tracked_items WHERE chat_id = ? AND video_id = ?`,
		chatID, videoID,
	)
	if err != nil {
		return NotTracked, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return NotTracked, err
	}
	if n == 0 {
		return NotTracked, nil
	}
	return Removed, nil
}

const itemColumns = `chat_id, video_id, video_url, last_views, last_likes, last_shares, last_favorites, last_notified_milestone, added_at`

func (s *sqliteStore) ListFor(ctx context.Context, chatID int64) ([]TrackedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM tracked_items WHERE chat_id = ? ORDER BY id`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]TrackedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ` + itemColumns + ` FROM tracked_items ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]TrackedItem, error) {
	var out []TrackedItem
	for rows.Next() {
		var it TrackedItem
		var addedAt string
		if err := rows.Scan(&it.ChatID, &it.VideoID, &it.VideoURL,
			&it.LastViews, &it.LastLikes, &it.LastShares, &it.LastFavorites,
			&it.LastNotifiedMilestone, &addedAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, addedAt); err == nil {
			it.AddedAt = t
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateMetrics(ctx context.Context, chatID int64, videoID string, m MetricSnapshot) error {
	// Intentionally not an upsert: a record removed by the user while a sweep
	// was in flight must stay removed.
	_, err := s.db.ExecContext(ctx,
		`UPDATE tracked_items
		 SET last_views = ?, last_likes = ?, last_shares = ?, last_favorites = ?
		 WHERE chat_id = ? AND video_id = ?`,
		m.Views, m.Likes, m.Shares, m.Favorites, chatID, videoID,
	)
	return err
}

func (s *sqliteStore) SetMilestone(ctx context.Context, chatID int64, videoID string, milestone int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tracked_items SET last_notified_milestone = ?
		 WHERE chat_id = ? AND video_id = ?`,
		milestone, chatID, videoID,
	)
	return err
}

func (s *sqliteStore) AppendHistory(ctx context.Context, videoID string, m MetricSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_history(video_id, views, likes, shares, favorites, recorded_at)
		 VALUES(?,?,?,?,?,?)`,
		videoID, m.Views, m.Likes, m.Shares, m.Favorites,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}
