package refresher

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fenwray/flowvid/internal/accounts"
)

// cookieBackoffBase is the first retry delay after a failed refresh round;
// it doubles per consecutive failure up to the configured cap.
const cookieBackoffBase = time.Minute

// CookieConfig tunes the cookie refresh loop.
type CookieConfig struct {
	// Interval is the routine full-refresh period.
	Interval time.Duration
	// CheckEvery is the early-expiry sweep period.
	CheckEvery time.Duration
	// EarlyMargin triggers a refresh when a jar expires within it.
	EarlyMargin time.Duration
	// BackoffMax caps the failure backoff.
	BackoffMax time.Duration
}

// CookieRefresher replaces every account's cookie jar on a schedule, plus
// on demand when the session endpoint reports the jar stale. A cron sweep
// catches jars that will expire before the next routine refresh.
type CookieRefresher struct {
	cfg     CookieConfig
	pool    *accounts.Pool
	browser Browser
	trigger chan struct{}
	logger  zerolog.Logger
}

// NewCookieRefresher creates the cookie refresh loop.
func NewCookieRefresher(cfg CookieConfig, pool *accounts.Pool, browser Browser, logger zerolog.Logger) *CookieRefresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 21 * time.Hour
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = 5 * time.Minute
	}
	if cfg.EarlyMargin <= 0 {
		cfg.EarlyMargin = 3 * time.Hour
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Hour
	}
	return &CookieRefresher{
		cfg:     cfg,
		pool:    pool,
		browser: browser,
		trigger: make(chan struct{}, 1),
		logger:  logger.With().Str("component", "cookie_refresher").Logger(),
	}
}

// Trigger requests an immediate refresh without blocking. A refresh
// already pending absorbs further triggers.
func (r *CookieRefresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes until the context ends. The first refresh only runs when
// some jar actually needs it, so restarts do not burn logins.
func (r *CookieRefresher) Run(ctx context.Context) error {
	sweeper := cron.New()
	_, err := sweeper.AddFunc(fmt.Sprintf("@every %s", r.cfg.CheckEvery), func() {
		if email, soon := r.expiringSoon(); soon {
			r.logger.Info().Str("email", email).Msg("jar expiring soon, triggering refresh")
			r.Trigger()
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cookie sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	if _, soon := r.expiringSoon(); soon {
		r.Trigger()
	}

	r.logger.Info().Dur("interval", r.cfg.Interval).Msg("cookie refresher started")
	failures := 0
	wait := r.cfg.Interval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("cookie refresher stopping")
			return ctx.Err()
		case <-timer.C:
		case <-r.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if r.refreshAll(ctx) {
			failures = 0
			wait = r.cfg.Interval
		} else {
			failures++
			wait = cookieBackoff(failures, r.cfg.BackoffMax)
			r.logger.Warn().Int("failures", failures).Dur("retry_in", wait).Msg("cookie refresh round incomplete")
		}
		timer.Reset(wait)
	}
}

// refreshAll runs a browser login for every account, reporting health to
// the pool per account. Returns true when every account refreshed.
func (r *CookieRefresher) refreshAll(ctx context.Context) bool {
	ok := true
	for _, email := range r.pool.Emails() {
		if ctx.Err() != nil {
			return false
		}
		password, _ := r.pool.PasswordFor(email)
		account := accounts.Account{Email: email, Password: password}

		cookies, expiresAt, err := r.browser.FetchCookies(ctx, account)
		if err != nil {
			r.logger.Error().Err(err).Str("email", email).Msg("cookie refresh failed")
			r.pool.ReportFailure(email)
			ok = false
			continue
		}
		if err := r.pool.UpdateJar(email, cookies, expiresAt); err != nil {
			r.logger.Error().Err(err).Str("email", email).Msg("persist refreshed jar failed")
			ok = false
			continue
		}
		r.logger.Info().Str("email", email).Time("expires_at", expiresAt).Msg("cookie jar refreshed")
	}
	return ok
}

func (r *CookieRefresher) expiringSoon() (string, bool) {
	for _, email := range r.pool.Emails() {
		if r.pool.ExpiringWithin(email, r.cfg.EarlyMargin) {
			return email, true
		}
	}
	return "", false
}

func cookieBackoff(failures int, limit time.Duration) time.Duration {
	d := cookieBackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}
