package eventlog

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/mod/sumdb/note"
)

// Ed25519Signer signs checkpoints as C2SP signed notes. Name, KeyHash and
// Sign come from the embedded note signer.
type Ed25519Signer struct {
	note.Signer
	verifierKey string
}

// NewEd25519Signer creates a checkpoint signer. An empty name defaults to
// vulnlog-<first 4 bytes of the public key in hex>.
func NewEd25519Signer(privateKey ed25519.PrivateKey, name string) (*Ed25519Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(privateKey), ed25519.PrivateKeySize)
	}
	publicKey := privateKey.Public().(ed25519.PublicKey)
	if name == "" {
		name = fmt.Sprintf("vulnlog-%x", publicKey[:4])
	}

	vkey, err := note.NewEd25519VerifierKey(name, publicKey)
	if err != nil {
		return nil, fmt.Errorf("derive verifier key: %w", err)
	}

	// The signer key shares the <name>+<hash>+ prefix of the verifier key.
	prefix := vkey[:strings.LastIndex(vkey, "+")+1]
	skey := "PRIVATE+KEY+" + prefix + base64.StdEncoding.EncodeToString(append([]byte{0x01}, privateKey.Seed()...))
	s, err := note.NewSigner(skey)
	if err != nil {
		return nil, fmt.Errorf("create note signer: %w", err)
	}
	return &Ed25519Signer{Signer: s, verifierKey: vkey}, nil
}

// VerifierKey returns the "<name>+<hash>+<key>" form accepted by
// note.NewVerifier.
func (s *Ed25519Signer) VerifierKey() (string, error) {
	return s.verifierKey, nil
}
