package signing

import (
	"crypto/rand"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/jj-vcs/jj-go/internal/fileutil"
)

// SSHSigner signs commit bytes with an SSH private key, in the same spirit
// as git's ssh signing.
type SSHSigner struct {
	signer ssh.Signer
	pub    ssh.PublicKey
}

// NewSSHSigner loads the private key at keyPath ("~/" is expanded).
func NewSSHSigner(keyPath string) (*SSHSigner, error) {
	raw, err := os.ReadFile(fileutil.ExpandHomePath(keyPath))
	if err != nil {
		return nil, fmt.Errorf("cannot read signing key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot parse signing key %s: %w", keyPath, err)
	}
	return &SSHSigner{signer: signer, pub: signer.PublicKey()}, nil
}

func (s *SSHSigner) Name() string { return "ssh" }

// Sign produces an SSH wire-format signature over data.
func (s *SSHSigner) Sign(data []byte) ([]byte, error) {
	sig, err := s.signer.Sign(rand.Reader, data)
	if err != nil {
		return nil, err
	}
	return ssh.Marshal(sig), nil
}

// Verify checks the signature against the signer's own public key. A
// signature that does not verify against that key, including one made with
// another key, reports SigBad, as do undecodable signature bytes.
func (s *SSHSigner) Verify(data, sigBytes []byte) (Verification, error) {
	var sig ssh.Signature
	if err := ssh.Unmarshal(sigBytes, &sig); err != nil {
		return Verification{Status: SigBad}, nil
	}
	keyID := ssh.FingerprintSHA256(s.pub)
	if err := s.pub.Verify(data, &sig); err != nil {
		return Verification{Status: SigBad, Key: keyID}, nil
	}
	return Verification{Status: SigGood, Key: keyID, Display: keyID}, nil
}
