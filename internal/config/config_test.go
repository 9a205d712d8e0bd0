package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUserConfig(t *testing.T, contents string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	t.Setenv("JJ_CONFIG", path)
}

func TestDefaults(t *testing.T) {
	writeUserConfig(t, "")
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20), s.MaxNewFileSize())
	assert.True(t, s.AutoTrack())
	assert.Equal(t, "none", s.Fsmonitor())
	assert.Equal(t, "diff", s.ConflictMarkerStyle())
	assert.True(t, s.RespectExecutableBit())
	assert.Equal(t, 12, s.CommitIDHintLength())
}

func TestUserConfigLayer(t *testing.T) {
	writeUserConfig(t, `
[user]
name = "Test User"
email = "test@example.com"

[snapshot]
max-new-file-size = "4KiB"
`)
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "Test User", s.UserName())
	assert.Equal(t, "test@example.com", s.UserEmail())
	assert.Equal(t, uint64(4096), s.MaxNewFileSize())
}

func TestEnvOverridesUserConfig(t *testing.T) {
	writeUserConfig(t, "[user]\nname = \"File User\"\n")
	t.Setenv("JJ_USER_NAME", "Env User")
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "Env User", s.UserName())
}

func TestRepoConfigOverridesUser(t *testing.T) {
	writeUserConfig(t, "[user]\nname = \"File User\"\n")
	repoPath := t.TempDir()
	require.NoError(t, InitSecureRepoConfig(repoPath))
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, repoConfigFile), []byte("[user]\nname = \"Repo User\"\n"), 0o644))
	require.NoError(t, SealRepoConfig(repoPath))

	s, err := Load(repoPath)
	require.NoError(t, err)
	require.NoError(t, s.RepoConfigWarning)
	assert.Equal(t, "Repo User", s.UserName())
}

func TestTamperedRepoConfigIgnored(t *testing.T) {
	writeUserConfig(t, "[user]\nname = \"File User\"\n")
	repoPath := t.TempDir()
	require.NoError(t, InitSecureRepoConfig(repoPath))
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, repoConfigFile), []byte("[user]\nname = \"Repo User\"\n"), 0o644))
	require.NoError(t, SealRepoConfig(repoPath))

	// Edit without re-sealing.
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, repoConfigFile), []byte("[user]\nname = \"Attacker\"\n"), 0o644))

	s, err := Load(repoPath)
	require.NoError(t, err)
	require.Error(t, s.RepoConfigWarning)
	var tampered *TamperedConfigError
	require.ErrorAs(t, s.RepoConfigWarning, &tampered)
	assert.Equal(t, "File User", s.UserName(), "tampered repo layer must be ignored")
}

func TestMovedRepoDetected(t *testing.T) {
	writeUserConfig(t, "")
	base := t.TempDir()
	repoPath := filepath.Join(base, "repo-a")
	require.NoError(t, os.Mkdir(repoPath, 0o755))
	require.NoError(t, InitSecureRepoConfig(repoPath))
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, repoConfigFile), []byte("[user]\nname = \"Repo User\"\n"), 0o644))
	require.NoError(t, SealRepoConfig(repoPath))

	moved := filepath.Join(base, "repo-b")
	require.NoError(t, os.Rename(repoPath, moved))

	_, err := LoadSecureRepoConfig(moved)
	var tampered *TamperedConfigError
	require.ErrorAs(t, err, &tampered)

	// Re-sealing at the new location restores trust.
	require.NoError(t, SealRepoConfig(moved))
	cfg, err := LoadSecureRepoConfig(moved)
	require.NoError(t, err)
	user, ok := cfg["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Repo User", user["name"])
}
