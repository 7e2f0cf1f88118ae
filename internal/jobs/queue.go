package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fenwray/flowvid/internal/flow"
	"github.com/fenwray/flowvid/internal/videostore"
)

// Job is one unit of work: generate the video identified by VideoID.
// SceneID is the correlation id captured at enqueue time; the worker
// prefers the one on the stored row and falls back to this.
type Job struct {
	VideoID string
	SceneID string
}

// Generator submits generation requests and polls their status.
type Generator interface {
	StartGeneration(ctx context.Context, params flow.GenerationParams) (*flow.Operation, error)
	CheckStatus(ctx context.Context, operationName, sceneID string) (*flow.StatusUpdate, error)
}

// Store is the persistence surface the worker needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*videostore.Video, error)
	BeginProcessing(ctx context.Context, id string) error
	SetOperation(ctx context.Context, id, operationName, sceneID string) error
	ApplyResult(ctx context.Context, id string, update videostore.ResultUpdate) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// Assets post-processes each status update, typically downloading any
// discovered media and rewriting the update's URLs to locally served ones.
// Called on every poll; implementations no-op when no media was found.
type Assets interface {
	HandleStatusUpdate(ctx context.Context, video *videostore.Video, update *flow.StatusUpdate) error
}

// Publisher emits status-change notifications.
type Publisher interface {
	PublishStatusChange(ctx context.Context, videoID string, from, to videostore.Status) error
}

// Config tunes the queue and its polling loop.
type Config struct {
	Capacity       int
	MaxPolls       int
	PollInterval   time.Duration
	LoadRetries    int
	LoadRetryDelay time.Duration
}

// Queue is a bounded FIFO of generation jobs drained by a single worker.
// One worker is deliberate: the upstream account pool cannot usefully run
// concurrent generations, and FIFO order is part of the API contract.
type Queue struct {
	cfg       Config
	jobs      chan Job
	generator Generator
	store     Store
	assets    Assets
	publisher Publisher
	logger    zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewQueue builds the queue. assets and publisher may be nil.
func NewQueue(cfg Config, generator Generator, store Store, assets Assets, publisher Publisher, logger zerolog.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 32
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.LoadRetries <= 0 {
		cfg.LoadRetries = 5
	}
	if cfg.LoadRetryDelay <= 0 {
		cfg.LoadRetryDelay = 200 * time.Millisecond
	}
	return &Queue{
		cfg:       cfg,
		jobs:      make(chan Job, cfg.Capacity),
		generator: generator,
		store:     store,
		assets:    assets,
		publisher: publisher,
		logger:    logger.With().Str("component", "job_queue").Logger(),
		sleep:     sleepContext,
	}
}

// Enqueue places a job at the tail of the queue, blocking while the queue
// is full until space frees up or the context ends.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		q.logger.Info().Str("video_id", job.VideoID).Int("depth", len(q.jobs)).Msg("job enqueued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of jobs waiting in the queue.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Run drains the queue until the context is cancelled. Job failures are
// absorbed into the video rows; only context cancellation ends the loop.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info().Int("capacity", q.cfg.Capacity).Msg("job worker started")
	for {
		select {
		case <-ctx.Done():
			q.logger.Info().Msg("job worker stopping")
			return ctx.Err()
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
