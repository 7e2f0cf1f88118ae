package accounts

import "time"

// Account is the static configuration for one upstream account.
type Account struct {
	Email    string
	Password string
}

// Health is the in-memory health state of one account. It is reset on
// restart; only the cookie jar survives in the persisted document.
type Health struct {
	ConsecutiveFailures int
	Healthy             bool
	CooldownUntil       time.Time
	LastSuccess         time.Time
	LastFailure         time.Time
}

// Jar is the persisted cookie set for one account. The "authorization"
// cookie entry, when present, carries the current bearer token.
type Jar struct {
	Cookies       map[string]string `json:"cookies"`
	ExpiresAt     time.Time         `json:"expires_at"`
	LastRefreshed time.Time         `json:"last_refreshed"`
}

// BearerCookieName is the jar entry overloaded to carry the bearer token.
const BearerCookieName = "authorization"

// Clone returns a deep copy so callers cannot mutate pool state.
func (j *Jar) Clone() *Jar {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Cookies = make(map[string]string, len(j.Cookies))
	for k, v := range j.Cookies {
		cp.Cookies[k] = v
	}
	return &cp
}

// Status is a point-in-time snapshot of one account for health reporting.
type Status struct {
	Email               string     `json:"email"`
	HasCookies          bool       `json:"has_cookies"`
	Healthy             bool       `json:"is_healthy"`
	ConsecutiveFailures int        `json:"failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
}
