package videostore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "videos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestVideo() *Video {
	return &Video{
		ID:          uuid.NewString(),
		Prompt:      "a red fox in the snow",
		AspectRatio: "VIDEO_ASPECT_RATIO_PORTRAIT",
		ModelKey:    "veo_3_1_t2v_fast_portrait",
		SceneID:     uuid.NewString(),
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := newTestVideo()
	require.NoError(t, store.Create(ctx, video))
	require.Equal(t, StatusPending, video.Status)
	require.False(t, video.CreatedAt.IsZero())

	got, err := store.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.Equal(t, video.Prompt, got.Prompt)
	require.Equal(t, StatusPending, got.Status)
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetByID(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_MigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "videos.db")

	first, err := NewStore(path)
	require.NoError(t, err)
	video := newTestVideo()
	require.NoError(t, first.Create(context.Background(), video))
	require.NoError(t, first.Close())

	// Reopening applies no migrations and keeps existing rows.
	second, err := NewStore(path)
	require.NoError(t, err)
	defer second.Close()
	got, err := second.GetByID(context.Background(), video.ID)
	require.NoError(t, err)
	require.Equal(t, video.Prompt, got.Prompt)
}

func TestStore_BeginProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := newTestVideo()
	require.NoError(t, store.Create(ctx, video))
	require.NoError(t, store.BeginProcessing(ctx, video.ID))

	got, err := store.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, got.Status)

	// Idempotent: a second call is a self-transition.
	require.NoError(t, store.BeginProcessing(ctx, video.ID))

	require.ErrorIs(t, store.BeginProcessing(ctx, uuid.NewString()), ErrNotFound)
}

func TestStore_BeginProcessingRejectsTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := newTestVideo()
	require.NoError(t, store.Create(ctx, video))
	require.NoError(t, store.MarkFailed(ctx, video.ID, "boom"))

	err := store.BeginProcessing(ctx, video.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "illegal status transition")
}

func TestStore_SetOperation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := newTestVideo()
	require.NoError(t, store.Create(ctx, video))
	require.NoError(t, store.SetOperation(ctx, video.ID, "op-1", "scene-9"))

	got, err := store.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.Equal(t, "op-1", got.OperationName)
	require.Equal(t, "scene-9", got.SceneID)
}

func TestStore_ApplyResult(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := newTestVideo()
	require.NoError(t, store.Create(ctx, video))
	require.NoError(t, store.BeginProcessing(ctx, video.ID))

	require.NoError(t, store.ApplyResult(ctx, video.ID, ResultUpdate{
		Status:          StatusCompleted,
		VideoURL:        "https://cdn.example.com/out.mp4",
		ThumbnailURL:    "https://cdn.example.com/out.jpg",
		DurationSeconds: 8,
	}))

	got, err := store.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, "https://cdn.example.com/out.mp4", got.VideoURL)
	require.Equal(t, "https://cdn.example.com/out.jpg", got.ThumbnailURL)
	require.InDelta(t, 8.0, got.DurationSeconds, 0.001)
}

func TestStore_ApplyResultKeepsEarlierMedia(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := newTestVideo()
	require.NoError(t, store.Create(ctx, video))
	require.NoError(t, store.BeginProcessing(ctx, video.ID))

	require.NoError(t, store.ApplyResult(ctx, video.ID, ResultUpdate{
		Status:   StatusProcessing,
		VideoURL: "https://cdn.example.com/early.mp4",
	}))
	// A later sparse poll must not erase the URL.
	require.NoError(t, store.ApplyResult(ctx, video.ID, ResultUpdate{
		Status: StatusCompleted,
	}))

	got, err := store.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, "https://cdn.example.com/early.mp4", got.VideoURL)
}

func TestStore_ApplyResultRejectsIllegalTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := newTestVideo()
	require.NoError(t, store.Create(ctx, video))
	require.NoError(t, store.BeginProcessing(ctx, video.ID))
	require.NoError(t, store.ApplyResult(ctx, video.ID, ResultUpdate{Status: StatusCompleted}))

	err := store.ApplyResult(ctx, video.ID, ResultUpdate{Status: StatusProcessing})
	require.Error(t, err)
	require.Contains(t, err.Error(), "illegal status transition")
}

func TestStore_MarkFailed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := newTestVideo()
	require.NoError(t, store.Create(ctx, video))
	require.NoError(t, store.MarkFailed(ctx, video.ID, "polling timed out"))

	got, err := store.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "polling timed out", got.FailureReason)
}

func TestStore_Recreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	video := newTestVideo()
	video.Seed = sql.NullInt64{Int64: 42, Valid: true}
	require.NoError(t, store.Create(ctx, video))
	require.NoError(t, store.BeginProcessing(ctx, video.ID))
	require.NoError(t, store.ApplyResult(ctx, video.ID, ResultUpdate{
		Status:   StatusCompleted,
		VideoURL: "https://cdn.example.com/out.mp4",
	}))

	newID := uuid.NewString()
	clone, err := store.Recreate(ctx, video.ID, newID)
	require.NoError(t, err)
	require.Equal(t, newID, clone.ID)
	require.Equal(t, video.Prompt, clone.Prompt)
	require.Equal(t, video.Seed, clone.Seed)
	require.Equal(t, StatusPending, clone.Status)
	require.Equal(t, video.ID, clone.SourceVideoID.String)

	got, err := store.GetByID(ctx, newID)
	require.NoError(t, err)
	require.Empty(t, got.VideoURL, "outcome fields are not inherited")
	require.Empty(t, got.OperationName)
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, store.Create(ctx, newTestVideo()))
	}
	videos, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, videos, 2)
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusProcessing))
	require.True(t, CanTransition(StatusPending, StatusFailed))
	require.True(t, CanTransition(StatusProcessing, StatusCompleted))
	require.True(t, CanTransition(StatusProcessing, StatusFailed))
	require.True(t, CanTransition(StatusCompleted, StatusCompleted))
	require.False(t, CanTransition(StatusCompleted, StatusProcessing))
	require.False(t, CanTransition(StatusFailed, StatusPending))
	require.False(t, CanTransition(StatusPending, StatusCompleted))
}
