// Package commitment implements the commit-reveal binding between a
// disclosure's published proof hash and the exploit revealed later.
//
// A commitment is the SHA2-256 digest of the plaintext. It carries no salt, so
// the same plaintext always yields the same digest; a reporter who wants to
// hide low-entropy plaintext should include their own random padding.
package commitment

import (
	"crypto/subtle"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/relves/vulnlog/pkg/types"
)

// Commit returns the digest that binds plaintext.
func Commit(plaintext []byte) types.Hash {
	var d types.Hash
	sum, err := mh.Sum(plaintext, mh.SHA2_256, -1)
	if err != nil {
		// SHA2-256 is always registered; Sum only fails for unknown codes.
		panic(fmt.Sprintf("multihash sha2-256: %v", err))
	}
	decoded, err := mh.Decode(sum)
	if err != nil {
		panic(fmt.Sprintf("decode multihash: %v", err))
	}
	copy(d[:], decoded.Digest)
	return d
}

// Verify reports whether plaintext is the preimage committed to by digest.
func Verify(digest types.Hash, plaintext []byte) bool {
	got := Commit(plaintext)
	return subtle.ConstantTimeCompare(got[:], digest[:]) == 1
}

// CID returns the content address of the committed plaintext, CIDv1 raw.
// The revealed proof can later be fetched and checked under this CID.
func CID(digest types.Hash) (cid.Cid, error) {
	encoded, err := mh.Encode(digest[:], mh.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("encode multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, encoded), nil
}

// FromCID extracts a commitment digest from a CIDv1 raw sha2-256 CID.
func FromCID(c cid.Cid) (types.Hash, error) {
	var d types.Hash
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return d, fmt.Errorf("decode multihash: %w", err)
	}
	if decoded.Code != mh.SHA2_256 {
		return d, fmt.Errorf("unsupported hash function %s", mh.Codes[decoded.Code])
	}
	if len(decoded.Digest) != len(d) {
		return d, fmt.Errorf("digest must be %d bytes, got %d", len(d), len(decoded.Digest))
	}
	copy(d[:], decoded.Digest)
	return d, nil
}
