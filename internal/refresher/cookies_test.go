package refresher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fenwray/flowvid/internal/accounts"
)

type fakeBrowser struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]bool
	expires time.Time
}

func (b *fakeBrowser) FetchCookies(ctx context.Context, account accounts.Account) (map[string]string, time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, account.Email)
	if b.failFor[account.Email] {
		return nil, time.Time{}, fmt.Errorf("login blocked")
	}
	expires := b.expires
	if expires.IsZero() {
		expires = time.Now().Add(24 * time.Hour)
	}
	return map[string]string{"SID": "fresh-" + account.Email}, expires, nil
}

func (b *fakeBrowser) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func newCookiePool(t *testing.T, emails ...string) *accounts.Pool {
	t.Helper()
	accs := make([]accounts.Account, 0, len(emails))
	for _, email := range emails {
		accs = append(accs, accounts.Account{Email: email, Password: "pw"})
	}
	pool, err := accounts.NewPool(accounts.PoolConfig{
		Accounts:   accs,
		CookieFile: filepath.Join(t.TempDir(), "cookies.json"),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return pool
}

func TestCookieRefresher_RefreshAll(t *testing.T) {
	pool := newCookiePool(t, "a@example.com", "b@example.com")
	browser := &fakeBrowser{}
	refresher := NewCookieRefresher(CookieConfig{}, pool, browser, zerolog.Nop())

	require.True(t, refresher.refreshAll(context.Background()))
	require.Equal(t, []string{"a@example.com", "b@example.com"}, browser.calls)

	jar, ok := pool.CurrentJar()
	require.True(t, ok)
	require.Equal(t, "fresh-a@example.com", jar.Cookies["SID"])
}

func TestCookieRefresher_PartialFailureReportsHealth(t *testing.T) {
	pool := newCookiePool(t, "a@example.com", "b@example.com")
	browser := &fakeBrowser{failFor: map[string]bool{"b@example.com": true}}
	refresher := NewCookieRefresher(CookieConfig{}, pool, browser, zerolog.Nop())

	require.False(t, refresher.refreshAll(context.Background()))

	report := pool.Report()
	require.True(t, report[0].HasCookies)
	require.False(t, report[1].HasCookies)
	require.Equal(t, 1, report[1].ConsecutiveFailures)
}

func TestCookieRefresher_ExpiringSoon(t *testing.T) {
	pool := newCookiePool(t, "a@example.com")
	refresher := NewCookieRefresher(CookieConfig{EarlyMargin: 3 * time.Hour}, pool, &fakeBrowser{}, zerolog.Nop())

	// No jar at all counts as expiring.
	email, soon := refresher.expiringSoon()
	require.True(t, soon)
	require.Equal(t, "a@example.com", email)

	require.NoError(t, pool.UpdateJar("a@example.com", map[string]string{"SID": "x"}, time.Now().Add(2*time.Hour)))
	_, soon = refresher.expiringSoon()
	require.True(t, soon, "expires inside the early margin")

	require.NoError(t, pool.UpdateJar("a@example.com", map[string]string{"SID": "x"}, time.Now().Add(4*time.Hour)))
	_, soon = refresher.expiringSoon()
	require.False(t, soon)
}

func TestCookieRefresher_TriggerCoalesces(t *testing.T) {
	refresher := NewCookieRefresher(CookieConfig{}, newCookiePool(t, "a@example.com"), &fakeBrowser{}, zerolog.Nop())

	refresher.Trigger()
	refresher.Trigger()
	refresher.Trigger()
	require.Len(t, refresher.trigger, 1)
}

func TestCookieRefresher_RunHandlesTrigger(t *testing.T) {
	pool := newCookiePool(t, "a@example.com")
	// Fresh jar so startup does not refresh on its own.
	require.NoError(t, pool.UpdateJar("a@example.com", map[string]string{"SID": "old"}, time.Now().Add(24*time.Hour)))
	browser := &fakeBrowser{expires: time.Now().Add(24 * time.Hour)}
	refresher := NewCookieRefresher(CookieConfig{
		Interval:    time.Hour,
		CheckEvery:  time.Hour,
		EarlyMargin: time.Minute,
	}, pool, browser, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- refresher.Run(ctx) }()

	refresher.Trigger()
	require.Eventually(t, func() bool { return browser.callCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	jar, ok := pool.CurrentJar()
	require.True(t, ok)
	require.Equal(t, "fresh-a@example.com", jar.Cookies["SID"])

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestCookieBackoff(t *testing.T) {
	require.Equal(t, time.Minute, cookieBackoff(1, time.Hour))
	require.Equal(t, 2*time.Minute, cookieBackoff(2, time.Hour))
	require.Equal(t, 16*time.Minute, cookieBackoff(5, time.Hour))
	require.Equal(t, time.Hour, cookieBackoff(10, time.Hour))
}
