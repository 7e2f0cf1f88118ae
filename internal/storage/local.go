package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fenwray/flowvid/internal/flow"
	"github.com/fenwray/flowvid/internal/videostore"
)

// LocalService downloads generated media into a local directory and
// rewrites the update's URLs to locally served ones. Upstream URLs are
// signed and short-lived; a completed video must not depend on them.
type LocalService struct {
	mediaDir      string
	publicBaseURL string
	httpClient    *http.Client
	logger        zerolog.Logger
}

// Config configures the local asset service.
type Config struct {
	MediaDir      string
	PublicBaseURL string
	Timeout       time.Duration
}

// NewLocalService creates the service and its media directory.
func NewLocalService(cfg Config, logger zerolog.Logger) (*LocalService, error) {
	if strings.TrimSpace(cfg.MediaDir) == "" {
		return nil, fmt.Errorf("media directory is required")
	}
	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &LocalService{
		mediaDir:      cfg.MediaDir,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger.With().Str("component", "local_storage").Logger(),
	}, nil
}

// HandleStatusUpdate downloads the video (and, best effort, its
// thumbnail) and points the update at the local copies. Called on every
// poll; a missing video URL is not an error, most polls only carry status.
func (s *LocalService) HandleStatusUpdate(ctx context.Context, video *videostore.Video, update *flow.StatusUpdate) error {
	if update.VideoURL == "" {
		return nil
	}

	videoName := video.ID + extensionOf(update.VideoURL, ".mp4")
	localPath, err := s.download(ctx, update.VideoURL, videoName)
	if err != nil {
		return fmt.Errorf("download video: %w", err)
	}
	update.LocalPath = localPath
	update.VideoURL = s.publicURL(videoName)
	s.logger.Info().Str("video_id", video.ID).Str("path", localPath).Msg("video downloaded")

	if update.ThumbnailURL != "" {
		thumbName := video.ID + "_thumb" + extensionOf(update.ThumbnailURL, ".jpg")
		if _, err := s.download(ctx, update.ThumbnailURL, thumbName); err != nil {
			s.logger.Warn().Err(err).Str("video_id", video.ID).Msg("thumbnail download failed")
			update.ThumbnailURL = ""
		} else {
			update.ThumbnailURL = s.publicURL(thumbName)
		}
	}
	return nil
}

// download fetches a URL into the media directory via a temp file rename
// so a crashed download never leaves a partial asset behind.
func (s *LocalService) download(ctx context.Context, rawURL, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	target := filepath.Join(s.mediaDir, name)
	tmp, err := os.CreateTemp(s.mediaDir, name+".tmp-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", err
	}
	return target, nil
}

func (s *LocalService) publicURL(name string) string {
	return s.publicBaseURL + "/" + name
}

// extensionOf extracts the file extension from a URL path, ignoring query
// parameters, with a fallback for extension-less signed URLs.
func extensionOf(rawURL, fallback string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	if ext := path.Ext(parsed.Path); ext != "" && len(ext) <= 5 {
		return ext
	}
	return fallback
}

// Noop skips asset handling entirely; upstream URLs are stored as-is.
type Noop struct{}

func (Noop) HandleStatusUpdate(ctx context.Context, video *videostore.Video, update *flow.StatusUpdate) error {
	return nil
}
