package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fenwray/flowvid/internal/accounts"
)

var sessionDefaultHeaders = map[string]string{
	"accept":          "application/json, text/plain, */*",
	"accept-language": "en-GB,en;q=0.9,en-US;q=0.8",
	"referer":         "https://labs.google/",
	"sec-fetch-dest":  "empty",
	"sec-fetch-mode":  "cors",
	"sec-fetch-site":  "same-origin",
}

// Session is the payload of the upstream session endpoint.
type Session struct {
	AccessToken string
	Expires     time.Time
	User        map[string]any
}

// SessionClient mints short-lived bearer tokens from a cookie-authenticated
// session endpoint.
type SessionClient struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewSessionClient creates a session client for the given endpoint.
func NewSessionClient(url string, timeout time.Duration, logger zerolog.Logger) *SessionClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SessionClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "session_client").Logger(),
	}
}

// Fetch calls the session endpoint using the jar's cookies as the Cookie
// header. An empty body or a body without an access token is the signal
// that the entire cookie jar is stale, and is reported as
// KindCredentialExpired so callers can trigger a full cookie refresh.
func (c *SessionClient) Fetch(ctx context.Context, cookies map[string]string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, wrapError(KindPermanent, err, "build session request")
	}
	for key, value := range sessionDefaultHeaders {
		req.Header.Set(key, value)
	}
	req.Header.Set("cookie", formatCookieHeader(cookies))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapError(KindPermanent, err, "session request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(KindPermanent, err, "read session response")
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Kind:       KindTransient,
			Message:    fmt.Sprintf("session fetch failed: %s", truncate(string(body), 200)),
			StatusCode: resp.StatusCode,
		}
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return nil, newError(KindCredentialExpired, "session endpoint returned an empty payload")
	}

	var payload struct {
		AccessToken string         `json:"access_token"`
		Expires     string         `json:"expires"`
		User        map[string]any `json:"user"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, wrapError(KindPermanent, err, "parse session response")
	}
	if payload.AccessToken == "" {
		return nil, newError(KindCredentialExpired, "session payload missing access_token")
	}

	expires, err := time.Parse(time.RFC3339, payload.Expires)
	if err != nil {
		return nil, wrapError(KindPermanent, err, "parse session expiry %q", payload.Expires)
	}

	return &Session{AccessToken: payload.AccessToken, Expires: expires, User: payload.User}, nil
}

// Resolver ensures a usable bearer token exists for an account, minting one
// through the session endpoint when the jar lacks it.
type Resolver struct {
	pool        *accounts.Pool
	sessions    *SessionClient
	legacyToken string
	logger      zerolog.Logger
}

// NewResolver creates a credential resolver. legacyToken is the optional
// single-account static fallback used when no jar was ever stored.
func NewResolver(pool *accounts.Pool, sessions *SessionClient, legacyToken string, logger zerolog.Logger) *Resolver {
	return &Resolver{
		pool:        pool,
		sessions:    sessions,
		legacyToken: legacyToken,
		logger:      logger.With().Str("component", "credential_resolver").Logger(),
	}
}

// Resolve returns "Bearer <token>" credentials for the account. A nil jar
// falls back to the legacy static token when configured; otherwise the
// resolver mints a token from the session endpoint, writes it back into
// the jar and reports success to the pool.
func (r *Resolver) Resolve(ctx context.Context, account accounts.Account, jar *accounts.Jar) (string, error) {
	if jar == nil {
		if r.legacyToken != "" {
			return formatBearer(r.legacyToken), nil
		}
		return "", newError(KindNoCredentials, "no credentials available for %s", account.Email)
	}

	if token := jar.Cookies[accounts.BearerCookieName]; token != "" {
		return formatBearer(token), nil
	}

	session, err := r.sessions.Fetch(ctx, jar.Cookies)
	if err != nil {
		return "", err
	}

	if err := r.pool.SetBearer(account.Email, session.AccessToken); err != nil {
		return "", wrapError(KindPermanent, err, "persist bearer token for %s", account.Email)
	}
	r.pool.ReportSuccess(account.Email)
	r.logger.Info().Str("email", account.Email).Time("expires", session.Expires).Msg("bearer token minted")

	return formatBearer(session.AccessToken), nil
}

// RefreshToken force-mints a fresh token for the current account,
// regardless of whether the jar already holds one. Returns the new token's
// expiry so the refresh loop can schedule itself.
func (r *Resolver) RefreshToken(ctx context.Context) (time.Time, error) {
	account := r.pool.Current()
	jar, ok := r.pool.CurrentJar()
	if !ok {
		// No usable jar at all: only a full cookie refresh can help.
		return time.Time{}, newError(KindCredentialExpired, "no usable cookie jar for %s", account.Email)
	}

	session, err := r.sessions.Fetch(ctx, jar.Cookies)
	if err != nil {
		return time.Time{}, err
	}
	if err := r.pool.SetBearer(account.Email, session.AccessToken); err != nil {
		return time.Time{}, wrapError(KindPermanent, err, "persist bearer token for %s", account.Email)
	}
	r.pool.ReportSuccess(account.Email)
	return session.Expires, nil
}

// formatBearer prefixes the token for the Authorization header without
// double-prefixing tokens that already carry it.
func formatBearer(token string) string {
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return token
	}
	return "Bearer " + token
}

// formatCookieHeader assembles a Cookie header value. Names are sorted so
// the header is deterministic, which keeps request fixtures stable.
func formatCookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}
	return strings.Join(pairs, "; ")
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
