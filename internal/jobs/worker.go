package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/fenwray/flowvid/internal/flow"
	"github.com/fenwray/flowvid/internal/videostore"
)

// process runs one job end to end: load the row, submit the generation,
// poll to a terminal state. Every failure path lands the row in failed so
// nothing stays stuck in processing.
func (q *Queue) process(ctx context.Context, job Job) {
	logger := q.logger.With().Str("video_id", job.VideoID).Logger()

	video, err := q.loadVideo(ctx, job.VideoID)
	if err != nil {
		if errors.Is(err, videostore.ErrNotFound) {
			// The row never became visible; the job is undeliverable.
			logger.Warn().Msg("video row not found, dropping job")
			return
		}
		logger.Error().Err(err).Msg("load video failed")
		return
	}

	if err := q.store.BeginProcessing(ctx, video.ID); err != nil {
		logger.Error().Err(err).Msg("begin processing failed")
		return
	}
	q.publishChange(video.ID, videostore.StatusPending, videostore.StatusProcessing)

	operationName, sceneID := video.OperationName, video.SceneID
	if sceneID == "" {
		sceneID = job.SceneID
	}
	if operationName == "" {
		op, err := q.generator.StartGeneration(ctx, generationParams(video, sceneID))
		if err != nil {
			logger.Error().Err(err).Msg("generation submission failed")
			q.fail(video.ID, fmt.Sprintf("submission failed: %v", err))
			return
		}
		operationName, sceneID = op.Name, op.SceneID
		if err := q.store.SetOperation(ctx, video.ID, operationName, sceneID); err != nil {
			logger.Error().Err(err).Msg("persist operation handle failed")
			q.fail(video.ID, "could not persist operation handle")
			return
		}
		logger.Info().Str("operation", operationName).Bool("synthesized", op.Synthesized).Msg("generation submitted")
	}

	q.poll(ctx, video, operationName, sceneID)
}

// poll drives the status loop. The first check runs immediately; every
// subsequent attempt waits one poll interval first. A status-check error
// fails the job with the error's own message: a poll that cannot be
// answered (expired session, upstream rejection) would otherwise burn
// every attempt and masquerade as a timeout.
func (q *Queue) poll(ctx context.Context, video *videostore.Video, operationName, sceneID string) {
	logger := q.logger.With().Str("video_id", video.ID).Str("operation", operationName).Logger()

	for attempt := 0; attempt < q.cfg.MaxPolls; attempt++ {
		if attempt > 0 {
			if err := q.sleep(ctx, q.cfg.PollInterval); err != nil {
				return
			}
		}

		update, err := q.generator.CheckStatus(ctx, operationName, sceneID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Int("attempt", attempt+1).Msg("status check failed")
			q.fail(video.ID, fmt.Sprintf("status check failed: %v", err))
			return
		}
		if update.Status == flow.StatusFailed {
			q.fail(video.ID, update.FailureReason)
			return
		}

		if err := q.applyUpdate(ctx, video, update); err != nil {
			logger.Error().Err(err).Msg("apply status update failed")
			q.fail(video.ID, err.Error())
			return
		}
		if update.Status == flow.StatusCompleted {
			q.publishChange(video.ID, videostore.StatusProcessing, videostore.StatusCompleted)
			logger.Info().Str("video_url", update.VideoURL).Msg("generation completed")
			return
		}
		logger.Debug().Str("status", string(update.Status)).Int("attempt", attempt+1).Msg("still generating")
	}

	logger.Warn().Int("max_polls", q.cfg.MaxPolls).Msg("polling timed out")
	q.fail(video.ID, fmt.Sprintf("generation timed out after %d polls", q.cfg.MaxPolls))
}

// applyUpdate folds one poll's outcome into the row: assets first, then
// the row, so a video is never marked completed while its media failed to
// materialize. Non-terminal updates persist too, so URLs discovered
// mid-generation survive even if a later poll drops them.
func (q *Queue) applyUpdate(ctx context.Context, video *videostore.Video, update *flow.StatusUpdate) error {
	if q.assets != nil {
		if err := q.assets.HandleStatusUpdate(ctx, video, update); err != nil {
			return fmt.Errorf("store generated media: %w", err)
		}
	}

	status := videostore.StatusProcessing
	if update.Status == flow.StatusCompleted {
		status = videostore.StatusCompleted
	}
	result := videostore.ResultUpdate{
		Status:          status,
		VideoURL:        update.VideoURL,
		ThumbnailURL:    update.ThumbnailURL,
		LocalPath:       update.LocalPath,
		DurationSeconds: update.DurationSeconds,
	}
	if err := q.store.ApplyResult(ctx, video.ID, result); err != nil {
		return fmt.Errorf("persist status update: %w", err)
	}
	return nil
}

// fail marks the row failed on a background context: the failure must be
// recorded even when the job's own context is already cancelled.
func (q *Queue) fail(videoID, reason string) {
	if reason == "" {
		reason = "generation failed"
	}
	if err := q.store.MarkFailed(context.Background(), videoID, reason); err != nil {
		q.logger.Error().Err(err).Str("video_id", videoID).Msg("mark failed failed")
		return
	}
	q.publishChange(videoID, videostore.StatusProcessing, videostore.StatusFailed)
}

func (q *Queue) publishChange(videoID string, from, to videostore.Status) {
	if q.publisher == nil {
		return
	}
	if err := q.publisher.PublishStatusChange(context.Background(), videoID, from, to); err != nil {
		q.logger.Warn().Err(err).Str("video_id", videoID).Msg("publish status change failed")
	}
}

// loadVideo fetches the row with a short retry: the enqueue races the
// creating transaction's commit, so the first read can miss.
func (q *Queue) loadVideo(ctx context.Context, id string) (*videostore.Video, error) {
	var lastErr error
	for attempt := 0; attempt < q.cfg.LoadRetries; attempt++ {
		if attempt > 0 {
			if err := q.sleep(ctx, q.cfg.LoadRetryDelay); err != nil {
				return nil, err
			}
		}
		video, err := q.store.GetByID(ctx, id)
		if err == nil {
			return video, nil
		}
		lastErr = err
		if !errors.Is(err, videostore.ErrNotFound) {
			return nil, err
		}
	}
	return nil, lastErr
}

func generationParams(video *videostore.Video, sceneID string) flow.GenerationParams {
	params := flow.GenerationParams{
		Prompt:      video.Prompt,
		AspectRatio: video.AspectRatio,
		ModelKey:    video.ModelKey,
		SceneID:     sceneID,
	}
	if video.Seed.Valid {
		seed := video.Seed.Int64
		params.Seed = &seed
	}
	return params
}
