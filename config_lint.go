package goSession

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks a configuration warning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is one questionable but valid setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (ws LintWarnings) BySeverity(min LintSeverity) LintWarnings {
	var out LintWarnings
	for _, w := range ws {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError returns an error listing the warnings at or above min, or nil.
func (ws LintWarnings) AsError(min LintSeverity) error {
	hits := ws.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, len(hits))
	for i, w := range hits {
		parts[i] = fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message)
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

// Lint reports settings that pass Validate but are likely mistakes. It
// assumes c is valid.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if len(c.Connection.TerminalCloseCodes) == 0 {
		add("terminal_codes_empty", LintHigh,
			"no close code is terminal; logged-out sessions will reconnect until attempts run out")
	}
	if c.Connection.ConnectTimeout == 0 {
		add("connect_timeout_disabled", LintWarn,
			"a hung handshake keeps the session CONNECTING forever")
	} else if c.Connection.ReadySettleDelay >= c.Connection.ConnectTimeout {
		add("settle_exceeds_connect_timeout", LintWarn,
			"ReadySettleDelay is not shorter than ConnectTimeout")
	}
	if budget := c.reconnectBudget(); budget < time.Minute {
		add("reconnect_budget_short", LintInfo,
			fmt.Sprintf("all reconnect attempts complete within %s", budget))
	}

	if c.Pairing.CodeTTL < 20*time.Second {
		add("pairing_ttl_short", LintWarn, "pairing codes expire before most users can scan them")
	}

	if !c.Notifier.DropIfFull {
		add("notifier_blocking", LintWarn,
			"a slow callback will stall its session's supervisor once the buffer fills")
	}

	if c.Dispatch.Concurrency > 1 {
		add("dispatch_unordered", LintWarn, "sends for one session may complete out of order")
	}

	if len(c.AuthState.EncryptionKey) == 0 {
		add("auth_state_unencrypted", LintInfo, "credentials are stored in Redis unsealed")
	}

	if !c.Metrics.Enabled {
		add("metrics_disabled", LintInfo, "in-process counters are off")
	}

	return ws
}

// reconnectBudget is the pre-jitter sum of every backoff delay.
func (c *Config) reconnectBudget() time.Duration {
	p := c.backoffPolicy()
	var total time.Duration
	for n := 1; n <= p.MaxAttempts; n++ {
		total += p.Delay(n)
		if total >= 24*time.Hour {
			break
		}
	}
	return total
}
