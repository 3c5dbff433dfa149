// Package envelope seals disclosure payloads for a protocol's encryption key
// using NaCl box (X25519, XSalsa20, Poly1305). A sealed envelope is the
// 24 byte nonce followed by the box ciphertext.
package envelope

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"

	"github.com/relves/vulnlog/pkg/types"
)

const (
	NonceSize = 24
	// MinSealedSize is the smallest envelope the ledger accepts: nonce,
	// authentication tag and at least 8 bytes of payload.
	MinSealedSize = NonceSize + box.Overhead + 8
	// MaxSealedSize bounds the stored payload.
	MaxSealedSize = 1024
)

var ErrOpen = errors.New("envelope: decryption failed")

// KeyPair is an X25519 key pair.
type KeyPair struct {
	Public  types.Key
	Private [32]byte
}

// GenerateKeyPair creates a key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	return generateKeyPair(rand.Reader)
}

func generateKeyPair(r io.Reader) (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &KeyPair{Public: types.Key(*pub), Private: *priv}, nil
}

// Seal encrypts plaintext from sender to the recipient's public key.
func Seal(plaintext []byte, recipient types.Key, sender *KeyPair) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	peer := [32]byte(recipient)
	out := box.Seal(nonce[:], plaintext, &nonce, &peer, &sender.Private)
	if len(out) > MaxSealedSize {
		return nil, fmt.Errorf("sealed payload is %d bytes, max %d", len(out), MaxSealedSize)
	}
	return out, nil
}

// Open decrypts an envelope sealed by the holder of senderKey.
func Open(sealed []byte, senderKey types.Key, recipient *KeyPair) ([]byte, error) {
	if len(sealed) < NonceSize+box.Overhead {
		return nil, ErrOpen
	}
	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])
	peer := [32]byte(senderKey)
	plaintext, ok := box.Open(nil, sealed[NonceSize:], &nonce, &peer, &recipient.Private)
	if !ok {
		return nil, ErrOpen
	}
	return plaintext, nil
}
