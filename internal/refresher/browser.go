package refresher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fenwray/flowvid/internal/accounts"
)

// Browser performs an interactive login for one account and returns the
// resulting cookie set with its expiry.
type Browser interface {
	FetchCookies(ctx context.Context, account accounts.Account) (map[string]string, time.Time, error)
}

// browserResult is the JSON document a login command must print on stdout.
type browserResult struct {
	Cookies   map[string]string `json:"cookies"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// ExecBrowser shells out to an external login command (typically a
// headless-browser script). The account is passed through the environment
// so credentials never hit the process list.
type ExecBrowser struct {
	command string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewExecBrowser creates a browser that runs the given shell command.
func NewExecBrowser(command string, timeout time.Duration, logger zerolog.Logger) *ExecBrowser {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ExecBrowser{
		command: command,
		timeout: timeout,
		logger:  logger.With().Str("component", "exec_browser").Logger(),
	}
}

func (b *ExecBrowser) FetchCookies(ctx context.Context, account accounts.Account) (map[string]string, time.Time, error) {
	if strings.TrimSpace(b.command) == "" {
		return nil, time.Time{}, fmt.Errorf("no browser command configured")
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", b.command)
	cmd.Env = append(os.Environ(),
		"FLOW_ACCOUNT_EMAIL="+account.Email,
		"FLOW_ACCOUNT_PASSWORD="+account.Password,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.logger.Info().Str("email", account.Email).Msg("running browser login")
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, time.Time{}, fmt.Errorf("browser login for %s failed: %s", account.Email, msg)
	}

	var result browserResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse browser output for %s: %w", account.Email, err)
	}
	if len(result.Cookies) == 0 {
		return nil, time.Time{}, fmt.Errorf("browser login for %s produced no cookies", account.Email)
	}
	if result.ExpiresAt.IsZero() {
		// Cookie lifetime is roughly a day; leave headroom.
		result.ExpiresAt = time.Now().Add(24 * time.Hour)
	}
	return result.Cookies, result.ExpiresAt, nil
}
