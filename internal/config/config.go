package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the config file name expected inside a data directory.
const FileName = "coffre.toml"

// Daemon describes how the coffred process is located and supervised.
type Daemon struct {
	Exec         string `toml:"exec"`
	ConfPath     string `toml:"conf_path"`
	SocketPath   string `toml:"socket_path"`
	StartTimeout int    `toml:"start_timeout"`
	StopTimeout  int    `toml:"stop_timeout"`
}

// Connect contains retry and timeout policy for daemon sessions.
type Connect struct {
	AttemptBudget  int `toml:"attempt_budget"`
	InitialBackoff int `toml:"initial_backoff_millis"`
	MaxBackoff     int `toml:"max_backoff_millis"`
	DialTimeout    int `toml:"dial_timeout"`
	CallTimeout    int `toml:"call_timeout"`
}

// Vault contains the multisig parameters the front-end needs to display and
// the installer assembles. The daemon owns their authoritative meaning.
type Vault struct {
	ParticipantXpubs []string `toml:"participant_xpubs"`
	Threshold        int      `toml:"threshold"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates every setting the front-end orchestrator needs.
//
// Sections by subsystem:
//   - DataDir/Network: where state lives and which chain the daemon runs on
//   - Daemon: executable location, socket path, supervision timeouts
//   - Connect: attempt budget, backoff bounds, dial/call timeouts
//   - Vault: participant xpubs and signing threshold
//   - Logging: log format and level
type Config struct {
	DataDir string  `toml:"data_dir"`
	Network string  `toml:"network"`
	Daemon  Daemon  `toml:"daemon"`
	Connect Connect `toml:"connect"`
	Vault   Vault   `toml:"vault"`
	Logging Logging `toml:"logging"`
}

// Networks lists the chains coffred can be configured for.
var Networks = []string{"bitcoin", "testnet", "signet", "regtest"}

// ErrNotFound reports that no usable configuration exists at the resolved
// location. Callers treat this as "run the installer", not as a failure.
var ErrNotFound = errors.New("configuration not found")

// InvalidError reports a config file that exists but cannot be used. Problems
// holds one entry per violated field so the UI can list everything at once.
type InvalidError struct {
	Path     string
	Problems []string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Path, strings.Join(e.Problems, "; "))
}

// DefaultDataDir returns the platform default data directory.
func DefaultDataDir() (string, error) {
	return ExpandPath("~/.coffre")
}

// Locate resolves the applicable configuration source and loads it.
//
// Precedence: explicit config path > explicit data directory > default data
// directory. A missing file, a missing data directory, or an existing but
// empty data directory all yield ErrNotFound. The second return value is the
// resolved config path even when the file does not exist yet, so the
// installer knows where to commit.
func Locate(confPath, dataDir string) (*Config, string, error) {
	resolved, err := resolveConfigPath(confPath, dataDir)
	if err != nil {
		// The resolved path is still reported so the installer knows where
		// a commit should land.
		return nil, resolved, err
	}
	cfg, err := Load(resolved)
	if err != nil {
		return nil, resolved, err
	}
	return cfg, resolved, nil
}

// Load parses and validates the config file at path. The returned config has
// all path fields expanded and defaults applied.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Default()
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, &InvalidError{Path: path, Problems: []string{fmt.Sprintf("parse: %v", err)}}
	}

	if err := cfg.normalize(); err != nil {
		return nil, &InvalidError{Path: path, Problems: []string{err.Error()}}
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, &InvalidError{Path: path, Problems: problems}
	}
	return &cfg, nil
}

func resolveConfigPath(confPath, dataDir string) (string, error) {
	if strings.TrimSpace(confPath) != "" {
		return ExpandPath(confPath)
	}

	dir := strings.TrimSpace(dataDir)
	if dir == "" {
		def, err := DefaultDataDir()
		if err != nil {
			return "", err
		}
		dir = def
	} else {
		expanded, err := ExpandPath(dir)
		if err != nil {
			return "", err
		}
		dir = expanded
	}

	empty, err := dirMissingOrEmpty(dir)
	if err != nil {
		return "", err
	}
	if empty {
		return filepath.Join(dir, FileName), fmt.Errorf("%w: data directory %s is missing or empty", ErrNotFound, dir)
	}
	return filepath.Join(dir, FileName), nil
}

func dirMissingOrEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("read data directory: %w", err)
	}
	return len(entries) == 0, nil
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.DataDir) == "" {
		def, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = def
	} else {
		expanded, err := ExpandPath(c.DataDir)
		if err != nil {
			return err
		}
		c.DataDir = expanded
	}

	if strings.TrimSpace(c.Daemon.SocketPath) == "" {
		c.Daemon.SocketPath = filepath.Join(c.DataDir, "coffred.sock")
	} else if !filepath.IsAbs(c.Daemon.SocketPath) {
		c.Daemon.SocketPath = filepath.Join(c.DataDir, c.Daemon.SocketPath)
	}

	if strings.TrimSpace(c.Daemon.ConfPath) != "" && !filepath.IsAbs(c.Daemon.ConfPath) {
		c.Daemon.ConfPath = filepath.Join(c.DataDir, c.Daemon.ConfPath)
	}

	c.Network = strings.ToLower(strings.TrimSpace(c.Network))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// ExpandPath resolves a leading tilde and returns an absolute, cleaned path.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
