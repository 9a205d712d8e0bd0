// Package config implements the layered settings the engine consumes:
// built-in defaults, the user's config file with environment overrides,
// and the repo-managed config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Settings is the merged configuration. Precedence, lowest to highest:
// defaults < user config (with JJ_* env overrides) < repo config.
type Settings struct {
	user *viper.Viper
	repo map[string]any
	// RepoConfigWarning is set when the repo config failed verification
	// and was ignored.
	RepoConfigWarning error
}

func defaults() map[string]any {
	return map[string]any{
		"user.name":                  "",
		"user.email":                 "",
		"operation.hostname":         "",
		"operation.username":         "",
		"snapshot.max-new-file-size": "1MiB",
		"snapshot.auto-track":        true,
		"core.fsmonitor":             "none",
		"core.executable-bit":        "respect",
		"ui.conflict-marker-style":   "diff",
		"signing.backend":            "none",
		"signing.key":                "",
		"debug.logfile":              false,
		"ui.commit-id-length":        12,
		"ui.change-id-length":        12,
	}
}

// UserConfigPath resolves the user config file: $JJ_CONFIG when set,
// otherwise ~/.config/jj/config.toml.
func UserConfigPath() string {
	if p := os.Getenv("JJ_CONFIG"); p != "" {
		return p
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "jj", "config.toml")
}

// Load builds settings for a repository. repoPath may be empty when
// operating outside a repo; the repo layer is skipped then.
func Load(repoPath string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("JJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	if path := UserConfigPath(); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("cannot read user config %s: %w", path, err)
			}
		}
	}

	s := &Settings{user: v}
	if repoPath != "" {
		repoCfg, err := LoadSecureRepoConfig(repoPath)
		if err != nil {
			// A tampered or moved repo config is ignored, not fatal.
			s.RepoConfigWarning = err
		} else {
			s.repo = flatten("", repoCfg)
		}
	}
	return s, nil
}

// flatten converts nested TOML tables into dotted keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, value := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := value.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = value
	}
	return out
}

// Get returns the raw value for a dotted key.
func (s *Settings) Get(key string) any {
	if s.repo != nil {
		if v, ok := s.repo[key]; ok {
			return v
		}
	}
	return s.user.Get(key)
}

// GetString returns a string value.
func (s *Settings) GetString(key string) string {
	if v := s.Get(key); v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// GetBool returns a boolean value.
func (s *Settings) GetBool(key string) bool {
	switch v := s.Get(key).(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}

// GetInt returns an integer value.
func (s *Settings) GetInt(key string) int {
	switch v := s.Get(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// UserName returns the configured user name.
func (s *Settings) UserName() string { return s.GetString("user.name") }

// UserEmail returns the configured user email.
func (s *Settings) UserEmail() string { return s.GetString("user.email") }

// OperationUsername returns the name recorded on operations, falling back
// to $USER.
func (s *Settings) OperationUsername() string {
	if v := s.GetString("operation.username"); v != "" {
		return v
	}
	return os.Getenv("USER")
}

// OperationHostname returns the hostname recorded on operations.
func (s *Settings) OperationHostname() string {
	if v := s.GetString("operation.hostname"); v != "" {
		return v
	}
	host, _ := os.Hostname()
	return host
}

// MaxNewFileSize returns the snapshot size cap for newly tracked files.
func (s *Settings) MaxNewFileSize() uint64 {
	raw := s.GetString("snapshot.max-new-file-size")
	size, err := humanize.ParseBytes(raw)
	if err != nil {
		fallback, _ := humanize.ParseBytes(defaults()["snapshot.max-new-file-size"].(string))
		return fallback
	}
	return size
}

// AutoTrack reports whether snapshot tracks new files automatically.
func (s *Settings) AutoTrack() bool { return s.GetBool("snapshot.auto-track") }

// Fsmonitor returns the configured filesystem monitor kind.
func (s *Settings) Fsmonitor() string { return s.GetString("core.fsmonitor") }

// RespectExecutableBit reports whether snapshot records exec-bit changes.
func (s *Settings) RespectExecutableBit() bool {
	return s.GetString("core.executable-bit") != "ignore"
}

// ConflictMarkerStyle returns "diff" or "git".
func (s *Settings) ConflictMarkerStyle() string {
	if s.GetString("ui.conflict-marker-style") == "git" {
		return "git"
	}
	return "diff"
}

// SigningBackend returns "none" or "ssh".
func (s *Settings) SigningBackend() string { return s.GetString("signing.backend") }

// SigningKey returns the signing key path.
func (s *Settings) SigningKey() string { return s.GetString("signing.key") }

// DebugLogFile reports whether the rotating log file sink is enabled.
func (s *Settings) DebugLogFile() bool { return s.GetBool("debug.logfile") }

// CommitIDHintLength returns how many hex digits of commit ids to show.
func (s *Settings) CommitIDHintLength() int { return s.GetInt("ui.commit-id-length") }

// parseTOML decodes TOML bytes into a nested map.
func parseTOML(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
