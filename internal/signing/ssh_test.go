package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "test key")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestSSHSignAndVerify(t *testing.T) {
	signer, err := NewSSHSigner(writeTestKey(t))
	require.NoError(t, err)
	assert.Equal(t, "ssh", signer.Name())

	data := []byte("commit bytes")
	sig, err := signer.Sign(data)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	v, err := signer.Verify(data, sig)
	require.NoError(t, err)
	assert.Equal(t, SigGood, v.Status)
	assert.NotEmpty(t, v.Key)

	// Tampered data fails verification.
	v, err = signer.Verify([]byte("other bytes"), sig)
	require.NoError(t, err)
	assert.Equal(t, SigBad, v.Status)

	// Garbage signature bytes are bad, not an error.
	v, err = signer.Verify(data, []byte("not a signature"))
	require.NoError(t, err)
	assert.Equal(t, SigBad, v.Status)
}

func TestNoneSigner(t *testing.T) {
	s := None()
	_, err := s.Sign([]byte("data"))
	assert.ErrorIs(t, err, ErrNoSigner)
	v, err := s.Verify([]byte("data"), nil)
	require.NoError(t, err)
	assert.Equal(t, SigUnknown, v.Status)
}
