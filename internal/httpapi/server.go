package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fenwray/flowvid/internal/accounts"
	"github.com/fenwray/flowvid/internal/jobs"
	"github.com/fenwray/flowvid/internal/videostore"
)

type videoStore interface {
	Create(ctx context.Context, video *videostore.Video) error
	GetByID(ctx context.Context, id string) (*videostore.Video, error)
	List(ctx context.Context, limit int) ([]videostore.Video, error)
	Recreate(ctx context.Context, sourceID, newID string) (*videostore.Video, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) error
	Depth() int
}

type accountReporter interface {
	Report() []accounts.Status
}

type Server struct {
	store  videoStore
	queue  enqueuer
	pool   accountReporter
	logger zerolog.Logger

	mediaDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithMediaServing serves downloaded assets from dir under /media/.
func WithMediaServing(dir string) Option {
	return func(s *Server) {
		s.mediaDir = dir
	}
}

func NewServer(store videoStore, queue enqueuer, pool accountReporter, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		store:  store,
		queue:  queue,
		pool:   pool,
		logger: logger.With().Str("component", "http_api").Logger(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/videos", s.handleVideos)
	s.mux.HandleFunc("/api/videos/", s.handleVideoByID)
	s.mux.HandleFunc("/api/accounts", s.handleAccounts)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	if s.mediaDir != "" {
		s.mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(s.mediaDir))))
	}
}
