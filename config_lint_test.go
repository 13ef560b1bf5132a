package goSession

import (
	"testing"
	"time"
)

func TestLint_DefaultConfigNoHighWarnings(t *testing.T) {
	cfg := defaultConfig()
	ws := cfg.Lint()

	if len(ws.BySeverity(LintHigh)) != 0 {
		t.Fatalf("default config should not have HIGH warnings: %v", ws.Codes())
	}
	if !containsCode(ws.Codes(), "auth_state_unencrypted") {
		t.Error("expected auth_state_unencrypted for the default config")
	}
}

func TestLint_EncryptedConfigDropsInfo(t *testing.T) {
	cfg := defaultConfig()
	cfg.AuthState.EncryptionKey = make([]byte, 32)
	if containsCode(cfg.Lint().Codes(), "auth_state_unencrypted") {
		t.Error("should not warn when an encryption key is set")
	}
}

func TestLint_NoTerminalCodes(t *testing.T) {
	cfg := defaultConfig()
	cfg.Connection.TerminalCloseCodes = nil
	ws := cfg.Lint()
	for _, w := range ws {
		if w.Code == "terminal_codes_empty" && w.Severity != LintHigh {
			t.Errorf("terminal_codes_empty should be HIGH, got %s", w.Severity)
		}
	}
	if !containsCode(ws.Codes(), "terminal_codes_empty") {
		t.Error("expected terminal_codes_empty warning")
	}
}

func TestLint_ConnectTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.Connection.ConnectTimeout = 0
	if !containsCode(cfg.Lint().Codes(), "connect_timeout_disabled") {
		t.Error("expected connect_timeout_disabled warning")
	}

	cfg = defaultConfig()
	cfg.Connection.ReadySettleDelay = cfg.Connection.ConnectTimeout
	if !containsCode(cfg.Lint().Codes(), "settle_exceeds_connect_timeout") {
		t.Error("expected settle_exceeds_connect_timeout warning")
	}
}

func TestLint_ShortReconnectBudget(t *testing.T) {
	cfg := defaultConfig()
	cfg.Connection.MaxReconnectAttempts = 2 // 5s + 10s
	if !containsCode(cfg.Lint().Codes(), "reconnect_budget_short") {
		t.Error("expected reconnect_budget_short warning")
	}

	cfg = defaultConfig()
	if containsCode(cfg.Lint().Codes(), "reconnect_budget_short") {
		t.Error("default budget should not be short")
	}
}

func TestLint_PairingTTLShort(t *testing.T) {
	cfg := defaultConfig()
	cfg.Pairing.CodeTTL = 10 * time.Second
	if !containsCode(cfg.Lint().Codes(), "pairing_ttl_short") {
		t.Error("expected pairing_ttl_short warning")
	}
}

func TestLint_NotifierAndDispatch(t *testing.T) {
	cfg := defaultConfig()
	cfg.Notifier.DropIfFull = false
	cfg.Dispatch.Concurrency = 4
	codes := cfg.Lint().Codes()
	if !containsCode(codes, "notifier_blocking") {
		t.Error("expected notifier_blocking warning")
	}
	if !containsCode(codes, "dispatch_unordered") {
		t.Error("expected dispatch_unordered warning")
	}
}

func TestLint_AsError(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Lint().AsError(LintHigh); err != nil {
		t.Errorf("default config should not fail AsError(LintHigh): %v", err)
	}

	cfg.Connection.TerminalCloseCodes = nil
	if err := cfg.Lint().AsError(LintHigh); err == nil {
		t.Error("expected AsError(LintHigh) to fail without terminal codes")
	}
}

func TestLint_BySeverity(t *testing.T) {
	cfg := defaultConfig()
	cfg.Connection.TerminalCloseCodes = nil
	cfg.Notifier.DropIfFull = false

	warn := cfg.Lint().BySeverity(LintWarn)
	if len(warn) < 2 {
		t.Fatalf("expected at least two WARN+ warnings, got %v", warn.Codes())
	}
	for _, w := range warn {
		if w.Severity < LintWarn {
			t.Errorf("BySeverity(LintWarn) returned %s", w.Severity)
		}
	}
}

// helpers

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
