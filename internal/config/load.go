package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// EnvBotToken overrides transports.telegram.bot_token when set.
const EnvBotToken = "TELEGRAM_BOT_TOKEN"

// DefaultPath returns the default config location,
// ~/.config/takopi/takopi.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "takopi", "takopi.toml"), nil
}

// ErrNotFound reports a missing config file; the CLI offers onboarding
// in that case instead of failing outright.
var ErrNotFound = errors.New("config file not found")

// Load reads, defaults, and env-overrides the config at path. It does
// not validate engine references; call Validate once engine ids are
// known.
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, Errorf("parse %s: %v", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, Errorf("unknown config key %q in %s", undecoded[0].String(), path)
	}
	cfg.Path = path
	cfg.applyDefaults()
	if tok := os.Getenv(EnvBotToken); tok != "" {
		cfg.Transports.Telegram.BotToken = tok
	}
	return &cfg, nil
}

// Save writes cfg back to cfg.Path, creating parent directories. The
// write goes through a temp file and rename so a crash never leaves a
// truncated config behind.
func (c *Config) Save() error {
	if c.Path == "" {
		return errors.New("config has no path")
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".takopi-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	enc := toml.NewEncoder(tmp)
	enc.Indent = ""
	if err := enc.Encode(c); err != nil {
		tmp.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
