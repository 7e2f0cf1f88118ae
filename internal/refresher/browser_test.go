package refresher

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fenwray/flowvid/internal/accounts"
)

func TestExecBrowser_ParsesOutput(t *testing.T) {
	browser := NewExecBrowser(
		`echo '{"cookies":{"SID":"s-1","HSID":"h-1"},"expires_at":"2026-09-02T10:00:00Z"}'`,
		time.Second, zerolog.Nop())

	cookies, expires, err := browser.FetchCookies(context.Background(), accounts.Account{Email: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "s-1", cookies["SID"])
	require.Equal(t, "h-1", cookies["HSID"])
	require.Equal(t, time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC), expires)
}

func TestExecBrowser_PassesAccountEnv(t *testing.T) {
	browser := NewExecBrowser(
		`echo "{\"cookies\":{\"email\":\"$FLOW_ACCOUNT_EMAIL\"},\"expires_at\":\"2026-09-02T10:00:00Z\"}"`,
		time.Second, zerolog.Nop())

	cookies, _, err := browser.FetchCookies(context.Background(), accounts.Account{Email: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "a@example.com", cookies["email"])
}

func TestExecBrowser_DefaultsExpiry(t *testing.T) {
	browser := NewExecBrowser(`echo '{"cookies":{"SID":"s"}}'`, time.Second, zerolog.Nop())

	_, expires, err := browser.FetchCookies(context.Background(), accounts.Account{Email: "a@example.com"})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(24*time.Hour), expires, time.Minute)
}

func TestExecBrowser_CommandFailure(t *testing.T) {
	browser := NewExecBrowser(`echo "login blocked" >&2; exit 3`, time.Second, zerolog.Nop())

	_, _, err := browser.FetchCookies(context.Background(), accounts.Account{Email: "a@example.com"})
	require.ErrorContains(t, err, "login blocked")
}

func TestExecBrowser_EmptyCookies(t *testing.T) {
	browser := NewExecBrowser(`echo '{"cookies":{}}'`, time.Second, zerolog.Nop())

	_, _, err := browser.FetchCookies(context.Background(), accounts.Account{Email: "a@example.com"})
	require.ErrorContains(t, err, "no cookies")
}

func TestExecBrowser_NoCommand(t *testing.T) {
	browser := NewExecBrowser("", time.Second, zerolog.Nop())

	_, _, err := browser.FetchCookies(context.Background(), accounts.Account{Email: "a@example.com"})
	require.ErrorContains(t, err, "no browser command")
}
