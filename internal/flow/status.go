package flow

import "strings"

// Status is the normalized lifecycle state of an upstream operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends the polling loop.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// The upstream has shipped at least three status vocabularies; map them
// all so a rollout on their side does not strand jobs in processing.
var statusMap = map[string]Status{
	"MEDIA_GENERATION_STATUS_PENDING":    StatusPending,
	"MEDIA_GENERATION_STATUS_CREATED":    StatusPending,
	"MEDIA_GENERATION_STATUS_SCHEDULED":  StatusPending,
	"MEDIA_GENERATION_STATUS_RUNNING":    StatusProcessing,
	"MEDIA_GENERATION_STATUS_PROCESSING": StatusProcessing,
	"MEDIA_GENERATION_STATUS_ACTIVE":     StatusProcessing,
	"MEDIA_GENERATION_STATUS_SUCCESSFUL": StatusCompleted,
	"MEDIA_GENERATION_STATUS_COMPLETED":  StatusCompleted,
	"MEDIA_GENERATION_STATUS_SUCCEEDED":  StatusCompleted,
	"MEDIA_GENERATION_STATUS_FAILED":     StatusFailed,
	"MEDIA_GENERATION_STATUS_ERROR":      StatusFailed,
	"MEDIA_GENERATION_STATUS_CANCELLED":  StatusFailed,

	"STATE_PENDING":   StatusPending,
	"STATE_CREATED":   StatusPending,
	"STATE_QUEUED":    StatusPending,
	"STATE_RUNNING":   StatusProcessing,
	"STATE_ACTIVE":    StatusProcessing,
	"STATE_SUCCEEDED": StatusCompleted,
	"STATE_COMPLETED": StatusCompleted,
	"STATE_FAILED":    StatusFailed,
	"STATE_CANCELLED": StatusFailed,

	"STATUS_PENDING":    StatusPending,
	"STATUS_QUEUED":     StatusPending,
	"STATUS_RUNNING":    StatusProcessing,
	"STATUS_PROCESSING": StatusProcessing,
	"STATUS_SUCCEEDED":  StatusCompleted,
	"STATUS_COMPLETED":  StatusCompleted,
	"STATUS_FAILED":     StatusFailed,
	"STATUS_ERROR":      StatusFailed,
}

// StatusUpdate is the normalized result of one status poll. LocalPath is
// never set by the parser; asset handling fills it in after downloading.
type StatusUpdate struct {
	Status          Status
	VideoURL        string
	ThumbnailURL    string
	LocalPath       string
	DurationSeconds float64
	FailureReason   string
}

var videoExtensions = []string{".mp4", ".webm", ".mov", ".mkv", ".gif"}

var videoURLKeys = map[string]bool{
	"downloadurl":  true,
	"videourl":     true,
	"signedurl":    true,
	"servingurl":   true,
	"fifedownload": true,
	"url":          true,
}

var thumbnailExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

var thumbnailURLKeys = map[string]bool{
	"thumbnailurl": true,
	"posterurl":    true,
	"previewurl":   true,
}

var durationKeys = map[string]bool{
	"durationseconds": true,
	"duration":        true,
	"durationsecs":    true,
	"videoduration":   true,
	"lengthseconds":   true,
}

// ParseStatusUpdate normalizes a raw status response. The upstream schema
// is undocumented and drifts, so instead of binding to a struct this walks
// the first operation entry for a recognizable status string, then sweeps
// the whole tree for media URLs and a duration. Unknown shapes degrade to
// an empty update, which callers treat as "still pending".
func ParseStatusUpdate(body map[string]any) StatusUpdate {
	var update StatusUpdate

	entry := firstOperationEntry(body)
	update.Status = extractStatus(entry, body)

	if update.Status == StatusFailed {
		update.FailureReason = extractFailureReason(entry, body)
	}

	root := any(body)
	if entry != nil {
		root = any(entry)
	}
	update.VideoURL = findURL(root, videoExtensions, videoURLKeys)
	update.ThumbnailURL = findURL(root, thumbnailExtensions, thumbnailURLKeys)
	update.DurationSeconds = findDuration(root)

	return update
}

// firstOperationEntry returns operations[0] as a map, tolerating the
// sceneOutputs map variant where operations live under arbitrary keys.
func firstOperationEntry(body map[string]any) map[string]any {
	if operations, ok := body["operations"].([]any); ok && len(operations) > 0 {
		if entry, ok := operations[0].(map[string]any); ok {
			return entry
		}
	}
	if outputs, ok := body["sceneOutputs"].(map[string]any); ok {
		for _, value := range outputs {
			if entry, ok := value.(map[string]any); ok {
				return entry
			}
		}
	}
	if operation, ok := body["operation"].(map[string]any); ok {
		return map[string]any{"operation": operation}
	}
	return nil
}

// extractStatus looks for a known status string at the spots the upstream
// has used: the entry itself, its nested operation, metadata and response.
// A `done: true` marker with no explicit status counts as completed.
func extractStatus(entry, body map[string]any) Status {
	candidates := make([]map[string]any, 0, 5)
	if entry != nil {
		candidates = append(candidates, entry)
		if operation, ok := entry["operation"].(map[string]any); ok {
			candidates = append(candidates, operation)
			if metadata, ok := operation["metadata"].(map[string]any); ok {
				candidates = append(candidates, metadata)
			}
			if response, ok := operation["response"].(map[string]any); ok {
				candidates = append(candidates, response)
			}
		}
		if metadata, ok := entry["metadata"].(map[string]any); ok {
			candidates = append(candidates, metadata)
		}
	} else {
		candidates = append(candidates, body)
	}

	for _, candidate := range candidates {
		for _, key := range []string{"status", "state", "mediaGenerationStatus"} {
			if raw, ok := candidate[key].(string); ok {
				if mapped, ok := statusMap[strings.ToUpper(raw)]; ok {
					return mapped
				}
			}
		}
	}

	for _, candidate := range candidates {
		if done, ok := candidate["done"].(bool); ok && done {
			return StatusCompleted
		}
	}
	return StatusProcessing
}

// extractFailureReason hunts for a human-readable failure message near the
// operation before giving up with a generic one.
func extractFailureReason(entry, body map[string]any) string {
	scopes := make([]map[string]any, 0, 4)
	if entry != nil {
		scopes = append(scopes, entry)
		if operation, ok := entry["operation"].(map[string]any); ok {
			scopes = append(scopes, operation)
			if metadata, ok := operation["metadata"].(map[string]any); ok {
				scopes = append(scopes, metadata)
			}
			if response, ok := operation["response"].(map[string]any); ok {
				scopes = append(scopes, response)
			}
		}
	} else {
		scopes = append(scopes, body)
	}

	for _, scope := range scopes {
		if errObj, ok := scope["error"].(map[string]any); ok {
			if message, ok := errObj["message"].(string); ok && message != "" {
				return message
			}
		}
	}
	for _, scope := range scopes {
		for _, key := range []string{"failureReason", "failureMessage", "errorMessage", "reason"} {
			if message, ok := scope[key].(string); ok && message != "" {
				return message
			}
		}
	}
	return "generation failed upstream"
}

// findURL walks the tree depth-first and returns the first string that
// either ends in one of the extensions (ignoring query params) or sits
// under one of the named keys and looks like an HTTP URL.
func findURL(node any, extensions []string, keys map[string]bool) string {
	switch v := node.(type) {
	case map[string]any:
		for key, value := range v {
			s, ok := value.(string)
			if !ok {
				continue
			}
			if keys[normalizeKey(key)] && isHTTPURL(s) {
				return s
			}
		}
		for _, value := range v {
			if found := findURL(value, extensions, keys); found != "" {
				return found
			}
		}
	case []any:
		for _, item := range v {
			if found := findURL(item, extensions, keys); found != "" {
				return found
			}
		}
	case string:
		if isHTTPURL(v) && hasExtension(v, extensions) {
			return v
		}
	}
	return ""
}

// findDuration walks the tree for the first numeric value under a
// duration-like key, accepting "8s"-style strings as well.
func findDuration(node any) float64 {
	switch v := node.(type) {
	case map[string]any:
		for key, value := range v {
			if !durationKeys[normalizeKey(key)] {
				continue
			}
			switch d := value.(type) {
			case float64:
				if d > 0 {
					return d
				}
			case string:
				if parsed := parseDurationString(d); parsed > 0 {
					return parsed
				}
			}
		}
		for _, value := range v {
			if found := findDuration(value); found > 0 {
				return found
			}
		}
	case []any:
		for _, item := range v {
			if found := findDuration(item); found > 0 {
				return found
			}
		}
	}
	return 0
}

// parseDurationString handles the protobuf Duration JSON form, e.g. "8s"
// or "8.5s".
func parseDurationString(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "s")
	if s == "" {
		return 0
	}
	var value float64
	var fraction float64
	var scale float64 = 1
	inFraction := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digit := float64(r - '0')
			if inFraction {
				scale *= 10
				fraction += digit / scale
			} else {
				value = value*10 + digit
			}
		case r == '.' && !inFraction:
			inFraction = true
		default:
			return 0
		}
	}
	return value + fraction
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", ""))
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func hasExtension(s string, extensions []string) bool {
	if idx := strings.IndexAny(s, "?#"); idx >= 0 {
		s = s[:idx]
	}
	lower := strings.ToLower(s)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
