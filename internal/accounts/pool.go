package accounts

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pool owns the set of upstream accounts, their cookie jars and their
// health state. Rotation is round-robin with lazy cooldown expiry; the
// pool is small (single-digit accounts) so anything smarter than a modular
// index would only add failure modes.
//
// All mutation goes through the pool's mutex: the queue worker, the
// refresh loops and the HTTP health report all share this state.
type Pool struct {
	mu       sync.Mutex
	accounts []Account
	index    int
	health   map[string]*Health
	doc      *jarDocument
	store    *jarStore

	expiryBuffer     time.Duration
	failureThreshold int
	cooldown         time.Duration

	now    func() time.Time
	logger zerolog.Logger
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Accounts         []Account
	CookieFile       string
	ExpiryBuffer     time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	Logger           zerolog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewPool builds a pool and hydrates cookie jars from the persisted store.
// Health state always starts fresh: every account begins healthy.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("at least one account is required")
	}
	if cfg.ExpiryBuffer <= 0 {
		cfg.ExpiryBuffer = 5 * time.Minute
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	store := newJarStore(cfg.CookieFile)
	doc, err := store.load()
	if err != nil {
		return nil, err
	}

	health := make(map[string]*Health, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		health[account.Email] = &Health{Healthy: true}
	}

	p := &Pool{
		accounts:         cfg.Accounts,
		health:           health,
		doc:              doc,
		store:            store,
		expiryBuffer:     cfg.ExpiryBuffer,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		now:              now,
		logger:           cfg.Logger.With().Str("component", "account_pool").Logger(),
	}
	p.logger.Info().Int("accounts", len(cfg.Accounts)).Msg("account pool initialised")
	return p, nil
}

// Size returns the number of configured accounts.
func (p *Pool) Size() int {
	return len(p.accounts)
}

// Current returns the account at the current rotation index.
func (p *Pool) Current() Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accounts[p.index%len(p.accounts)]
}

// CurrentJar returns the stored jar for the current account, or false when
// no jar was ever stored or the jar is within the expiry buffer of its
// expires_at.
func (p *Pool) CurrentJar() (*Jar, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	account := p.accounts[p.index%len(p.accounts)]
	jar, ok := p.doc.Accounts[account.Email]
	if !ok || p.jarExpired(jar) {
		return nil, false
	}
	return jar.Clone(), true
}

// jarExpired reports whether the jar is unusable: expiry is evaluated with
// the safety buffer so a jar that expires in four minutes already counts
// as expired.
func (p *Pool) jarExpired(jar *Jar) bool {
	if jar == nil || jar.ExpiresAt.IsZero() {
		return true
	}
	return !p.now().Before(jar.ExpiresAt.Add(-p.expiryBuffer))
}

// ReportFailure increments the account's consecutive failure count and,
// once the threshold is reached, marks it unhealthy with a cooldown.
// An empty email means the current account.
func (p *Pool) ReportFailure(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if email == "" {
		email = p.accounts[p.index%len(p.accounts)].Email
	}
	h, ok := p.health[email]
	if !ok {
		return
	}

	h.ConsecutiveFailures++
	h.LastFailure = p.now()
	if h.ConsecutiveFailures >= p.failureThreshold {
		h.Healthy = false
		h.CooldownUntil = p.now().Add(p.cooldown)
		p.logger.Warn().
			Str("email", email).
			Int("failures", h.ConsecutiveFailures).
			Time("cooldown_until", h.CooldownUntil).
			Msg("account marked unhealthy")
		return
	}
	p.logger.Info().Str("email", email).Int("failures", h.ConsecutiveFailures).Msg("account failure recorded")
}

// ReportSuccess resets the account's failure state.
func (p *Pool) ReportSuccess(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reportSuccessLocked(email)
}

func (p *Pool) reportSuccessLocked(email string) {
	h, ok := p.health[email]
	if !ok {
		return
	}
	h.ConsecutiveFailures = 0
	h.Healthy = true
	h.CooldownUntil = time.Time{}
	h.LastSuccess = p.now()
}

// Rotate advances the rotation index to the next healthy account, wrapping
// at most once around the pool. Accounts whose cooldown elapsed are reset
// to healthy as they are visited. Returns false and leaves the index
// unchanged when every account is unhealthy or cooling down.
func (p *Pool) Rotate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	original := p.index
	for attempts := 0; attempts < len(p.accounts); attempts++ {
		p.index = (p.index + 1) % len(p.accounts)
		email := p.accounts[p.index].Email
		h := p.health[email]

		if !h.CooldownUntil.IsZero() {
			if p.now().Before(h.CooldownUntil) {
				continue
			}
			// Cooldown elapsed: eagerly reset.
			h.CooldownUntil = time.Time{}
			h.ConsecutiveFailures = 0
			h.Healthy = true
		}

		if h.Healthy {
			p.logger.Info().Str("email", email).Msg("rotated to account")
			return true
		}
	}

	p.index = original
	p.logger.Warn().Msg("no healthy accounts available")
	return false
}

// UpdateJar overwrites the stored jar for an account and persists the
// document. A fresh jar is proof the account works, so this implicitly
// reports success.
func (p *Pool) UpdateJar(email string, cookies map[string]string, expiresAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make(map[string]string, len(cookies))
	for k, v := range cookies {
		cp[k] = v
	}
	p.doc.Accounts[email] = &Jar{
		Cookies:       cp,
		ExpiresAt:     expiresAt,
		LastRefreshed: p.now(),
	}
	p.doc.CurrentAccount = email
	p.doc.LastUpdated = p.now()

	if err := p.store.save(p.doc); err != nil {
		return err
	}
	p.reportSuccessLocked(email)
	p.logger.Info().Str("email", email).Time("expires_at", expiresAt).Msg("cookie jar updated")
	return nil
}

// SetBearer writes a freshly minted bearer token into the account's jar
// and persists it. The jar's expiry is untouched: the token rides inside
// an otherwise unchanged cookie set.
func (p *Pool) SetBearer(email, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	jar, ok := p.doc.Accounts[email]
	if !ok {
		return fmt.Errorf("no cookie jar stored for %s", email)
	}
	if jar.Cookies == nil {
		jar.Cookies = make(map[string]string)
	}
	jar.Cookies[BearerCookieName] = token
	p.doc.LastUpdated = p.now()
	return p.store.save(p.doc)
}

// NeedsRefresh reports whether the account's jar is absent or within the
// expiry buffer. An empty email means the current account.
func (p *Pool) NeedsRefresh(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if email == "" {
		email = p.accounts[p.index%len(p.accounts)].Email
	}
	jar, ok := p.doc.Accounts[email]
	if !ok {
		return true
	}
	return p.jarExpired(jar)
}

// ExpiringWithin reports whether the account's jar is absent or will
// expire within the given margin.
func (p *Pool) ExpiringWithin(email string, margin time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	jar, ok := p.doc.Accounts[email]
	if !ok || jar.ExpiresAt.IsZero() {
		return true
	}
	return !p.now().Add(margin).Before(jar.ExpiresAt)
}

// Emails returns the configured account emails in rotation order.
func (p *Pool) Emails() []string {
	ret := make([]string, 0, len(p.accounts))
	for _, account := range p.accounts {
		ret = append(ret, account.Email)
	}
	return ret
}

// InCooldown reports whether the account's cooldown window is still open.
func (p *Pool) InCooldown(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.health[email]
	if !ok || h.CooldownUntil.IsZero() {
		return false
	}
	return p.now().Before(h.CooldownUntil)
}

// PasswordFor returns the configured password for an account email.
func (p *Pool) PasswordFor(email string) (string, bool) {
	for _, account := range p.accounts {
		if account.Email == email {
			return account.Password, true
		}
	}
	return "", false
}

// Report returns a snapshot of every account's health and jar presence,
// in configuration order.
func (p *Pool) Report() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	ret := make([]Status, 0, len(p.accounts))
	for _, account := range p.accounts {
		h := p.health[account.Email]
		_, hasCookies := p.doc.Accounts[account.Email]

		status := Status{
			Email:               account.Email,
			HasCookies:          hasCookies,
			Healthy:             h.Healthy,
			ConsecutiveFailures: h.ConsecutiveFailures,
		}
		if !h.LastSuccess.IsZero() {
			t := h.LastSuccess
			status.LastSuccess = &t
		}
		if !h.LastFailure.IsZero() {
			t := h.LastFailure
			status.LastFailure = &t
		}
		if !h.CooldownUntil.IsZero() {
			t := h.CooldownUntil
			status.CooldownUntil = &t
		}
		ret = append(ret, status)
	}
	return ret
}
