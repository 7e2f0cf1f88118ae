package flow

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fenwray/flowvid/internal/accounts"
)

// maxAccountAttempts caps how many distinct accounts a single generation
// attempt may burn through, independent of pool size.
const maxAccountAttempts = 3

// The upstream rejects requests that do not look like they came from the
// web client, so every call carries its browser headers. The body really
// is sent as text/plain; that is what the web client does.
var generateDefaultHeaders = map[string]string{
	"accept":            "*/*",
	"accept-language":   "en-GB,en;q=0.9,en-US;q=0.6",
	"content-type":      "text/plain;charset=UTF-8",
	"priority":          "u=1, i",
	"referer":           "https://labs.google/",
	"sec-fetch-dest":    "empty",
	"sec-fetch-mode":    "cors",
	"sec-fetch-site":    "cross-site",
	"x-browser-channel": "stable",
	"x-browser-year":    "2025",
}

// ClientConfig holds the configuration for the generation client.
type ClientConfig struct {
	GenerateURL        string
	StatusURL          string
	ProjectID          string
	DefaultVideoModel  string
	DefaultAspectRatio string
	UserPaygateTier    string
	Timeout            time.Duration
}

// GenerationParams are the caller-supplied inputs for one generation.
type GenerationParams struct {
	Prompt      string
	AspectRatio string
	ModelKey    string
	Seed        *int64
	SceneID     string
}

// Operation is the upstream handle for a submitted generation request.
type Operation struct {
	Name      string
	SceneID   string
	Status    Status
	RequestID string
	// Synthesized marks a handle recovered from response headers after an
	// empty body, rather than parsed from an operations payload.
	Synthesized bool
}

// Client drives the upstream generation API across the account pool.
type Client struct {
	cfg        ClientConfig
	pool       *accounts.Pool
	resolver   *Resolver
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a generation client.
func NewClient(cfg ClientConfig, pool *accounts.Pool, resolver *Resolver, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		pool:       pool,
		resolver:   resolver,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "flow_client").Logger(),
	}
}

// StartGeneration submits a generation request, trying up to
// min(pool size, 3) distinct accounts. Upstream rejections and credential
// trouble report the account failure and rotate; local errors abort
// immediately. Exhausting every attempt returns the last error wrapped as
// KindExhausted.
func (c *Client) StartGeneration(ctx context.Context, params GenerationParams) (*Operation, error) {
	payload, sceneID := c.buildGeneratePayload(params)

	attempts := c.pool.Size()
	if attempts > maxAccountAttempts {
		attempts = maxAccountAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		account := c.pool.Current()
		op, err := c.startOnce(ctx, account, payload, sceneID)
		if err == nil {
			c.pool.ReportSuccess(account.Email)
			return op, nil
		}

		switch KindOf(err) {
		case KindTransient, KindCredentialExpired, KindNoCredentials:
			lastErr = err
			c.pool.ReportFailure(account.Email)
			c.logger.Warn().Err(err).Str("email", account.Email).Int("attempt", attempt+1).
				Msg("generation attempt failed, rotating account")
			if !c.pool.Rotate() {
				return nil, wrapError(KindExhausted, err, "no healthy accounts available")
			}
		default:
			return nil, err
		}
	}

	return nil, wrapError(KindExhausted, lastErr, "generation failed on %d accounts", attempts)
}

func (c *Client) startOnce(ctx context.Context, account accounts.Account, payload map[string]any, sceneID string) (*Operation, error) {
	jar, _ := c.pool.CurrentJar()
	token, err := c.resolver.Resolve(ctx, account, jar)
	if err != nil {
		return nil, err
	}

	body, headers, err := c.post(ctx, c.cfg.GenerateURL, payload, jar, token)
	if err != nil {
		return nil, err
	}

	op := extractOperation(body, headers, sceneID)
	if op == nil {
		return nil, newError(KindPermanent, "flow response carried no operation identity")
	}
	return op, nil
}

// CheckStatus polls the status endpoint for one operation. Status checks
// always use the current account and never rotate: a rejected poll is the
// job's problem, not grounds for burning more accounts.
func (c *Client) CheckStatus(ctx context.Context, operationName, sceneID string) (*StatusUpdate, error) {
	account := c.pool.Current()
	jar, _ := c.pool.CurrentJar()
	token, err := c.resolver.Resolve(ctx, account, jar)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"operations": []any{
			map[string]any{
				"operation": map[string]any{"name": operationName},
				"sceneId":   sceneID,
			},
		},
	}

	body, _, err := c.post(ctx, c.cfg.StatusURL, payload, jar, token)
	if err != nil {
		return nil, err
	}
	if body == nil {
		c.logger.Error().Str("operation", operationName).Msg("status check returned empty response")
		return &StatusUpdate{}, nil
	}

	update := ParseStatusUpdate(body)
	return &update, nil
}

// post issues one authenticated call and decodes the JSON body. An HTTP
// error status comes back as KindTransient carrying the status code; an
// empty or literal-null body comes back as a nil map with headers intact.
func (c *Client) post(ctx context.Context, url string, payload map[string]any, jar *accounts.Jar, token string) (map[string]any, http.Header, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, wrapError(KindPermanent, err, "marshal request payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, nil, wrapError(KindPermanent, err, "build request")
	}
	for key, value := range generateDefaultHeaders {
		req.Header.Set(key, value)
	}
	req.Header.Set("authorization", token)
	if jar != nil && len(jar.Cookies) > 0 {
		req.Header.Set("cookie", formatCookieHeader(jar.Cookies))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, wrapError(KindPermanent, err, "flow request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, wrapError(KindPermanent, err, "read flow response")
	}

	if resp.StatusCode >= 400 {
		snippet := truncate(string(body), 500)
		if snippet == "" {
			snippet = "no response body"
		}
		return nil, nil, &Error{
			Kind:       KindTransient,
			Message:    "flow API call failed: " + snippet,
			StatusCode: resp.StatusCode,
		}
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		c.logger.Warn().Int("status_code", resp.StatusCode).Str("url", url).Msg("flow returned empty body")
		return nil, resp.Header, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, nil, wrapError(KindPermanent, err, "flow API returned a non-JSON payload")
	}
	return decoded, resp.Header, nil
}

func (c *Client) buildGeneratePayload(params GenerationParams) (map[string]any, string) {
	sceneID := params.SceneID
	if sceneID == "" {
		sceneID = uuid.NewString()
	}
	modelKey := params.ModelKey
	if modelKey == "" {
		modelKey = c.cfg.DefaultVideoModel
	}
	aspectRatio := params.AspectRatio
	if aspectRatio == "" {
		aspectRatio = c.cfg.DefaultAspectRatio
	}
	var seed int64
	if params.Seed != nil {
		seed = *params.Seed
	} else {
		seed = randomSeed()
	}

	payload := map[string]any{
		"clientContext": map[string]any{
			"projectId":       c.cfg.ProjectID,
			"tool":            "PINHOLE",
			"userPaygateTier": c.cfg.UserPaygateTier,
		},
		"requests": []any{
			map[string]any{
				"aspectRatio":   aspectRatio,
				"seed":          seed,
				"textInput":     map[string]any{"prompt": params.Prompt},
				"videoModelKey": modelKey,
				"metadata":      map[string]any{"sceneId": sceneID},
			},
		},
	}
	return payload, sceneID
}

func randomSeed() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return 0
	}
	return n.Int64()
}

// extractOperation derives an operation handle from whatever the upstream
// gave back, in deterministic fallback order: the operations body, the
// explicit operation-name headers, the structured request-params header,
// and finally the Location header. An empty body with a recoverable name
// yields a synthesized pending record so the caller can still poll.
func extractOperation(body map[string]any, headers http.Header, sceneID string) *Operation {
	if name := operationNameFromBody(body); name != "" {
		return &Operation{Name: name, SceneID: sceneID, Status: StatusPending}
	}
	if body != nil {
		// A parsed body without a name is not recoverable from headers:
		// the upstream answered and the answer has no operation.
		return nil
	}

	name := operationNameFromHeaders(headers)
	if name == "" {
		return nil
	}
	return &Operation{
		Name:        name,
		SceneID:     sceneID,
		Status:      StatusPending,
		RequestID:   firstHeader(headers, "x-request-id", "x-flow-request-id"),
		Synthesized: true,
	}
}

// operationNameFromBody digs operations[0].operation.name out of the
// loosely structured response, tolerating the single-operation and
// flattened variants the upstream has been seen to produce.
func operationNameFromBody(body map[string]any) string {
	if body == nil {
		return ""
	}

	operations, ok := body["operations"].([]any)
	if !ok || len(operations) == 0 {
		if single, ok := body["operation"].(map[string]any); ok {
			if name, ok := single["name"].(string); ok {
				return name
			}
		}
		if single, ok := body["operation"].(string); ok {
			return single
		}
		name, _ := body["name"].(string)
		return name
	}

	first, ok := operations[0].(map[string]any)
	if !ok {
		name, _ := operations[0].(string)
		return name
	}
	if operation, ok := first["operation"].(map[string]any); ok {
		if name, ok := operation["name"].(string); ok {
			return name
		}
	}
	if operation, ok := first["operation"].(string); ok {
		return operation
	}
	name, _ := first["name"].(string)
	return name
}

func operationNameFromHeaders(headers http.Header) string {
	if headers == nil {
		return ""
	}
	if name := firstHeader(headers, "x-goog-operation-name", "x-operation-name", "x-flow-operation-name"); name != "" {
		return name
	}

	if params := headers.Get("x-goog-request-params"); params != "" {
		for _, part := range strings.Split(params, "&") {
			if value, ok := strings.CutPrefix(part, "name="); ok && value != "" {
				return lastPathSegment(value)
			}
		}
	}

	if location := headers.Get("location"); strings.Contains(location, "/") {
		return lastPathSegment(location)
	}
	return ""
}

func firstHeader(headers http.Header, names ...string) string {
	for _, name := range names {
		if value := headers.Get(name); value != "" {
			return value
		}
	}
	return ""
}

func lastPathSegment(s string) string {
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
