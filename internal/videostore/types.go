package videostore

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of a video row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Video is one generation request and its outcome.
type Video struct {
	ID              string         `db:"id" json:"id"`
	Prompt          string         `db:"prompt" json:"prompt"`
	AspectRatio     string         `db:"aspect_ratio" json:"aspect_ratio"`
	ModelKey        string         `db:"model_key" json:"model_key"`
	Seed            sql.NullInt64  `db:"seed" json:"-"`
	SceneID         string         `db:"scene_id" json:"scene_id"`
	OperationName   string         `db:"operation_name" json:"operation_name,omitempty"`
	Status          Status         `db:"status" json:"status"`
	VideoURL        string         `db:"video_url" json:"video_url,omitempty"`
	ThumbnailURL    string         `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	LocalPath       string         `db:"local_path" json:"local_path,omitempty"`
	DurationSeconds float64        `db:"duration_seconds" json:"duration_seconds,omitempty"`
	FailureReason   string         `db:"failure_reason" json:"failure_reason,omitempty"`
	SourceVideoID   sql.NullString `db:"source_video_id" json:"-"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}
