package videostore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrNotFound is returned when no video row matches the given id.
var ErrNotFound = errors.New("video not found")

// ResultUpdate carries the outcome fields of one poll, to be folded into
// the video row together with a status transition.
type ResultUpdate struct {
	Status          Status
	VideoURL        string
	ThumbnailURL    string
	LocalPath       string
	DurationSeconds float64
	FailureReason   string
}

// Store persists videos in a SQLite database.
type Store struct {
	db *sqlx.DB
}

// NewStore opens (creating if needed) the database at path and applies any
// pending migrations.
func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "0001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// Create inserts a new video row. The caller supplies the id; timestamps
// are stamped here.
func (s *Store) Create(ctx context.Context, video *Video) error {
	if video == nil {
		return fmt.Errorf("video is nil")
	}
	now := time.Now().UTC()
	video.CreatedAt = now
	video.UpdatedAt = now
	if video.Status == "" {
		video.Status = StatusPending
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO videos (
			id, prompt, aspect_ratio, model_key, seed, scene_id, operation_name,
			status, video_url, thumbnail_url, local_path, duration_seconds,
			failure_reason, source_video_id, created_at, updated_at
		) VALUES (
			:id, :prompt, :aspect_ratio, :model_key, :seed, :scene_id, :operation_name,
			:status, :video_url, :thumbnail_url, :local_path, :duration_seconds,
			:failure_reason, :source_video_id, :created_at, :updated_at
		)`, video)
	return err
}

// GetByID fetches one video row.
func (s *Store) GetByID(ctx context.Context, id string) (*Video, error) {
	var video Video
	err := s.db.GetContext(ctx, &video, `SELECT * FROM videos WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &video, nil
}

// List returns the most recent videos, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Video, error) {
	if limit <= 0 {
		limit = 50
	}
	videos := make([]Video, 0, limit)
	err := s.db.SelectContext(ctx, &videos, `SELECT * FROM videos ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return videos, nil
}

// BeginProcessing moves a pending video to processing. The transition is
// guarded in SQL so a video deleted or already failed underneath the
// worker surfaces as ErrNotFound rather than silently resurrecting.
func (s *Store) BeginProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusProcessing, time.Now().UTC(), id, StatusPending)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.transitionError(ctx, id, StatusProcessing)
	}
	return nil
}

// SetOperation records the upstream operation handle once submission
// succeeded.
func (s *Store) SetOperation(ctx context.Context, id, operationName, sceneID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET operation_name = ?, scene_id = ?, updated_at = ?
		WHERE id = ?`,
		operationName, sceneID, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ApplyResult folds a poll outcome into the row, validating the status
// transition first. Empty outcome fields never overwrite previously
// stored values: a later sparse poll must not erase the media URLs an
// earlier one delivered.
func (s *Store) ApplyResult(ctx context.Context, id string, update ResultUpdate) error {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := ValidateTransition(current.Status, update.Status); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET
			status = ?,
			video_url = CASE WHEN ? != '' THEN ? ELSE video_url END,
			thumbnail_url = CASE WHEN ? != '' THEN ? ELSE thumbnail_url END,
			local_path = CASE WHEN ? != '' THEN ? ELSE local_path END,
			duration_seconds = CASE WHEN ? > 0 THEN ? ELSE duration_seconds END,
			failure_reason = CASE WHEN ? != '' THEN ? ELSE failure_reason END,
			updated_at = ?
		WHERE id = ?`,
		update.Status,
		update.VideoURL, update.VideoURL,
		update.ThumbnailURL, update.ThumbnailURL,
		update.LocalPath, update.LocalPath,
		update.DurationSeconds, update.DurationSeconds,
		update.FailureReason, update.FailureReason,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkFailed force-fails a video regardless of its current state, for the
// paths where the pipeline itself broke and the row must not stay stuck.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		StatusFailed, reason, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Recreate clones a video's request fields into a fresh pending row with
// the given id, linked back to the original through source_video_id.
func (s *Store) Recreate(ctx context.Context, sourceID, newID string) (*Video, error) {
	source, err := s.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	clone := &Video{
		ID:            newID,
		Prompt:        source.Prompt,
		AspectRatio:   source.AspectRatio,
		ModelKey:      source.ModelKey,
		Seed:          source.Seed,
		Status:        StatusPending,
		SourceVideoID: sql.NullString{String: sourceID, Valid: true},
	}
	if err := s.Create(ctx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

// transitionError distinguishes a missing row from an illegal transition
// after a guarded UPDATE matched nothing.
func (s *Store) transitionError(ctx context.Context, id string, to Status) error {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return ValidateTransition(current.Status, to)
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
