package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks the configuration against its schema and returns one entry
// per violated field. An empty slice means the configuration is usable.
func (c *Config) Validate() []string {
	var problems []string
	problems = append(problems, c.validateNetwork()...)
	problems = append(problems, c.validatePaths()...)
	problems = append(problems, c.validateDaemon()...)
	problems = append(problems, c.validateConnect()...)
	problems = append(problems, c.validateVault()...)
	problems = append(problems, c.validateLogging()...)
	return problems
}

func (c *Config) validateNetwork() []string {
	for _, network := range Networks {
		if c.Network == network {
			return nil
		}
	}
	return []string{fmt.Sprintf("network must be one of %s, got %q", strings.Join(Networks, "/"), c.Network)}
}

func (c *Config) validatePaths() []string {
	var problems []string
	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "data_dir must be set")
	} else if !filepath.IsAbs(c.DataDir) {
		problems = append(problems, fmt.Sprintf("data_dir must be absolute, got %q", c.DataDir))
	}
	return problems
}

func (c *Config) validateDaemon() []string {
	var problems []string
	if strings.TrimSpace(c.Daemon.Exec) == "" {
		problems = append(problems, "daemon.exec must be set")
	}
	if strings.TrimSpace(c.Daemon.SocketPath) == "" {
		problems = append(problems, "daemon.socket_path must be set")
	}
	if c.Daemon.StartTimeout <= 0 {
		problems = append(problems, "daemon.start_timeout must be positive (seconds)")
	}
	if c.Daemon.StopTimeout <= 0 {
		problems = append(problems, "daemon.stop_timeout must be positive (seconds)")
	}
	return problems
}

func (c *Config) validateConnect() []string {
	var problems []string
	if c.Connect.AttemptBudget <= 0 {
		problems = append(problems, "connect.attempt_budget must be positive")
	}
	if c.Connect.InitialBackoff <= 0 {
		problems = append(problems, "connect.initial_backoff_millis must be positive")
	}
	if c.Connect.MaxBackoff < c.Connect.InitialBackoff {
		problems = append(problems, "connect.max_backoff_millis must be at least connect.initial_backoff_millis")
	}
	if c.Connect.DialTimeout <= 0 {
		problems = append(problems, "connect.dial_timeout must be positive (seconds)")
	}
	if c.Connect.CallTimeout <= 0 {
		problems = append(problems, "connect.call_timeout must be positive (seconds)")
	}
	return problems
}

func (c *Config) validateVault() []string {
	var problems []string
	if len(c.Vault.ParticipantXpubs) == 0 {
		problems = append(problems, "vault.participant_xpubs must list at least one extended public key")
	}
	for i, xpub := range c.Vault.ParticipantXpubs {
		if err := CheckXpub(xpub); err != nil {
			problems = append(problems, fmt.Sprintf("vault.participant_xpubs[%d]: %v", i, err))
		}
	}
	if c.Vault.Threshold < 1 || c.Vault.Threshold > len(c.Vault.ParticipantXpubs) {
		problems = append(problems, fmt.Sprintf("vault.threshold must be between 1 and %d, got %d", len(c.Vault.ParticipantXpubs), c.Vault.Threshold))
	}
	return problems
}

func (c *Config) validateLogging() []string {
	var problems []string
	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level must be debug/info/warn/error, got %q", c.Logging.Level))
	}
	return problems
}

// xpub version prefixes per network family (BIP 32 serialization).
var xpubPrefixes = []string{"xpub", "tpub", "vpub", "upub"}

// CheckXpub performs a shape check on a BIP 32 extended public key. The
// daemon re-validates the key cryptographically; the front-end only catches
// obvious entry mistakes early.
func CheckXpub(raw string) error {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fmt.Errorf("extended public key is empty")
	}
	prefixed := false
	for _, prefix := range xpubPrefixes {
		if strings.HasPrefix(value, prefix) {
			prefixed = true
			break
		}
	}
	if !prefixed {
		return fmt.Errorf("extended public key must start with one of %s", strings.Join(xpubPrefixes, "/"))
	}
	if len(value) < 100 || len(value) > 120 {
		return fmt.Errorf("extended public key has unexpected length %d", len(value))
	}
	for _, r := range value {
		if !isBase58(r) {
			return fmt.Errorf("extended public key contains invalid character %q", r)
		}
	}
	return nil
}

func isBase58(r rune) bool {
	switch {
	case r >= '1' && r <= '9':
		return true
	case r >= 'A' && r <= 'Z':
		return r != 'I' && r != 'O'
	case r >= 'a' && r <= 'z':
		return r != 'l'
	default:
		return false
	}
}
