package refresher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fenwray/flowvid/internal/flow"
)

// minTokenDelay is the floor between refresh attempts so a token expiring
// momentarily cannot spin the loop.
const minTokenDelay = 60 * time.Second

// CookieTrigger requests an out-of-band cookie refresh.
type CookieTrigger interface {
	Trigger()
}

// TokenConfig tunes the token refresh loop.
type TokenConfig struct {
	// Margin is how long before expiry the next refresh runs.
	Margin time.Duration
	// FailureDelay is the retry delay after a failed refresh.
	FailureDelay time.Duration
	// ExpiredDelay is the retry delay after the session was found expired
	// and a cookie refresh was triggered.
	ExpiredDelay time.Duration
}

// TokenRefresher keeps the current account's bearer token fresh. Tokens
// live for minutes, cookies for about a day; this loop handles the former
// and escalates to the cookie refresher when the latter has gone stale.
type TokenRefresher struct {
	cfg      TokenConfig
	resolver *flow.Resolver
	cookies  CookieTrigger
	logger   zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTokenRefresher creates the token refresh loop. cookies may be nil.
func NewTokenRefresher(cfg TokenConfig, resolver *flow.Resolver, cookies CookieTrigger, logger zerolog.Logger) *TokenRefresher {
	if cfg.Margin <= 0 {
		cfg.Margin = 60 * time.Second
	}
	if cfg.FailureDelay <= 0 {
		cfg.FailureDelay = 120 * time.Second
	}
	if cfg.ExpiredDelay <= 0 {
		cfg.ExpiredDelay = 10 * time.Second
	}
	return &TokenRefresher{
		cfg:      cfg,
		resolver: resolver,
		cookies:  cookies,
		logger:   logger.With().Str("component", "token_refresher").Logger(),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Run refreshes until the context ends.
func (r *TokenRefresher) Run(ctx context.Context) error {
	r.logger.Info().Msg("token refresher started")
	for {
		delay := r.refreshOnce(ctx)
		if err := r.sleep(ctx, delay); err != nil {
			r.logger.Info().Msg("token refresher stopping")
			return err
		}
	}
}

// refreshOnce performs one refresh attempt and returns how long to wait
// before the next one.
func (r *TokenRefresher) refreshOnce(ctx context.Context) time.Duration {
	expiry, err := r.resolver.RefreshToken(ctx)
	if err == nil {
		delay := expiry.Sub(r.now()) - r.cfg.Margin
		if delay < minTokenDelay {
			delay = minTokenDelay
		}
		r.logger.Info().Time("expires", expiry).Dur("next_refresh_in", delay).Msg("bearer token refreshed")
		return delay
	}

	if flow.IsSessionExpired(err) {
		r.logger.Warn().Err(err).Msg("session expired, triggering cookie refresh")
		if r.cookies != nil {
			r.cookies.Trigger()
		}
		return r.cfg.ExpiredDelay
	}

	r.logger.Error().Err(err).Msg("token refresh failed")
	return r.cfg.FailureDelay
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
