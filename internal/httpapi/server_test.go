package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fenwray/flowvid/internal/accounts"
	"github.com/fenwray/flowvid/internal/jobs"
	"github.com/fenwray/flowvid/internal/videostore"
)

type serverFixture struct {
	server *Server
	store  *videostore.Store
	queue  *jobs.Queue
}

func newServerFixture(t *testing.T, opts ...Option) *serverFixture {
	t.Helper()
	dir := t.TempDir()

	store, err := videostore.NewStore(filepath.Join(dir, "videos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue := jobs.NewQueue(jobs.Config{Capacity: 8}, nil, store, nil, nil, zerolog.Nop())

	pool, err := accounts.NewPool(accounts.PoolConfig{
		Accounts:   []accounts.Account{{Email: "a@example.com", Password: "pw"}},
		CookieFile: filepath.Join(dir, "cookies.json"),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	return &serverFixture{
		server: NewServer(store, queue, pool, zerolog.Nop(), opts...),
		store:  store,
		queue:  queue,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeVideo(t *testing.T, rec *httptest.ResponseRecorder) videostore.Video {
	t.Helper()
	var video videostore.Video
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &video))
	return video
}

func TestCreateVideo(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/videos", []byte(`{"prompt":"a red fox in the snow","seed":42}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	video := decodeVideo(t, rec)
	require.NotEmpty(t, video.ID)
	require.NotEmpty(t, video.SceneID)
	require.Equal(t, videostore.StatusPending, video.Status)
	require.Equal(t, 1, f.queue.Depth())

	stored, err := f.store.GetByID(context.Background(), video.ID)
	require.NoError(t, err)
	require.Equal(t, "a red fox in the snow", stored.Prompt)
	require.True(t, stored.Seed.Valid)
	require.EqualValues(t, 42, stored.Seed.Int64)
}

func TestCreateVideo_Validation(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/videos", []byte(`{"prompt":"  "}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/videos", []byte(`not json`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Zero(t, f.queue.Depth())
}

func TestGetVideo(t *testing.T) {
	f := newServerFixture(t)

	created := decodeVideo(t, f.do(t, http.MethodPost, "/api/videos", []byte(`{"prompt":"p"}`)))

	rec := f.do(t, http.MethodGet, "/api/videos/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, created.ID, decodeVideo(t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/videos/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListVideos(t *testing.T) {
	f := newServerFixture(t)

	for range 3 {
		f.do(t, http.MethodPost, "/api/videos", []byte(`{"prompt":"p"}`))
	}

	rec := f.do(t, http.MethodGet, "/api/videos?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Videos []videostore.Video `json:"videos"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Videos, 2)

	rec = f.do(t, http.MethodGet, "/api/videos?limit=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecreateVideo(t *testing.T) {
	f := newServerFixture(t)

	created := decodeVideo(t, f.do(t, http.MethodPost, "/api/videos", []byte(`{"prompt":"p"}`)))
	require.Equal(t, 1, f.queue.Depth())

	rec := f.do(t, http.MethodPost, "/api/videos/"+created.ID+"/recreate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	clone := decodeVideo(t, rec)
	require.NotEqual(t, created.ID, clone.ID)
	require.Equal(t, created.Prompt, clone.Prompt)
	require.Equal(t, videostore.StatusPending, clone.Status)
	require.Equal(t, 2, f.queue.Depth())

	rec = f.do(t, http.MethodPost, "/api/videos/does-not-exist/recreate", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountsReport(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Accounts []accounts.Status `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Accounts, 1)
	require.Equal(t, "a@example.com", resp.Accounts[0].Email)
	require.True(t, resp.Accounts[0].Healthy)
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])
	require.EqualValues(t, 0, resp["queue_depth"])
}

func TestMethodNotAllowed(t *testing.T) {
	f := newServerFixture(t)

	require.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodDelete, "/api/videos", nil).Code)
	require.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPost, "/api/health", nil).Code)
	require.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPost, "/api/accounts", nil).Code)
}

func TestMediaServing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v1.mp4"), []byte("bytes"), 0o644))

	f := newServerFixture(t, WithMediaServing(dir))

	rec := f.do(t, http.MethodGet, "/media/v1.mp4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "bytes", rec.Body.String())
}
