package config

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jj-vcs/jj-go/internal/fileutil"
)

// The repo-managed config is paired with an HMAC so that edits made
// outside the engine, or a repository copied to another location, are
// detected before the config is trusted.

const (
	repoConfigFile = "config.toml"
	repoKeyFile    = "config.key"
	repoMACFile    = "config.hmac"
	repoSaltFile   = "config.salt"
)

// TamperedConfigError reports a repo config that failed verification.
type TamperedConfigError struct {
	Path   string
	Reason string
}

func (e *TamperedConfigError) Error() string {
	return fmt.Sprintf("repo config %s not trusted: %s", e.Path, e.Reason)
}

// InitSecureRepoConfig creates the key, salt, and an empty sealed config
// under repoPath.
func InitSecureRepoConfig(repoPath string) error {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(repoPath, repoKeyFile), key, 0o600); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(repoPath, repoSaltFile), salt, 0o600); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(repoPath, repoConfigFile), nil, 0o644); err != nil {
		return err
	}
	return SealRepoConfig(repoPath)
}

// SealRepoConfig recomputes the MAC over the current config contents and
// the repo's canonical location. Run after a legitimate edit.
func SealRepoConfig(repoPath string) error {
	mac, err := computeMAC(repoPath)
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(filepath.Join(repoPath, repoMACFile), mac, 0o600)
}

// LoadSecureRepoConfig verifies and parses the repo config. A missing
// config layer is an empty map.
func LoadSecureRepoConfig(repoPath string) (map[string]any, error) {
	cfgPath := filepath.Join(repoPath, repoConfigFile)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	want, err := os.ReadFile(filepath.Join(repoPath, repoMACFile))
	if err != nil {
		return nil, &TamperedConfigError{Path: cfgPath, Reason: "missing seal"}
	}
	got, err := computeMAC(repoPath)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(want, got) {
		return nil, &TamperedConfigError{Path: cfgPath, Reason: "config was edited outside jj or the repo moved"}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	cfg, err := parseTOML(data)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", cfgPath, err)
	}
	return cfg, nil
}

func computeMAC(repoPath string) ([]byte, error) {
	key, err := os.ReadFile(filepath.Join(repoPath, repoKeyFile))
	if err != nil {
		return nil, &TamperedConfigError{Path: repoPath, Reason: "missing config key"}
	}
	salt, err := os.ReadFile(filepath.Join(repoPath, repoSaltFile))
	if err != nil {
		return nil, &TamperedConfigError{Path: repoPath, Reason: "missing config salt"}
	}
	data, err := os.ReadFile(filepath.Join(repoPath, repoConfigFile))
	if err != nil {
		return nil, err
	}
	canonical, err := filepath.EvalSymlinks(repoPath)
	if err != nil {
		canonical = filepath.Clean(repoPath)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	mac.Write(salt)
	mac.Write([]byte(canonical))
	return mac.Sum(nil), nil
}
