// Package address derives the deterministic record addresses used by the
// ledger. An address is the CIDv1 of a SHA2-256 multihash over a
// length-prefixed list of seeds, so equal inputs always produce the same
// address and distinct seed lists cannot collide by concatenation.
package address

import (
	"encoding/binary"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"

	"github.com/relves/vulnlog/pkg/types"
)

// Seed namespaces.
const (
	seedProtocol   = "protocol"
	seedPolicy     = "protocol_config"
	seedDisclosure = "disclosure"
	seedVault      = "vault"
	seedReceipt    = "bounty_claim"
)

// Derive returns the address for an arbitrary seed list.
func Derive(seeds ...[]byte) string {
	var buf []byte
	for _, s := range seeds {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	sum, err := mh.Sum(buf, mh.SHA2_256, -1)
	if err != nil {
		panic(fmt.Sprintf("multihash sha2-256: %v", err))
	}
	return cid.NewCidV1(uint64(multicodec.Raw), sum).String()
}

// Protocol is the address of the protocol governing artifact.
func Protocol(artifact types.Identity) string {
	return Derive([]byte(seedProtocol), []byte(artifact))
}

// Policy is the address of the policy belonging to a protocol.
func Policy(protocol string) string {
	return Derive([]byte(seedPolicy), []byte(protocol))
}

// Disclosure is the address of a hacker's disclosure against target.
// Varying nonce lets one hacker hold many reports against the same target.
func Disclosure(hacker, target types.Identity, nonce uint64) string {
	return Derive(
		[]byte(seedDisclosure),
		[]byte(hacker),
		[]byte(target),
		binary.LittleEndian.AppendUint64(nil, nonce),
	)
}

// Vault is the address of a protocol's bounty vault.
func Vault(protocol string) string {
	return Derive([]byte(seedVault), []byte(protocol))
}

// Receipt is the address of the claim receipt for a disclosure and vault.
func Receipt(disclosure, vault string) string {
	return Derive([]byte(seedReceipt), []byte(disclosure), []byte(vault))
}

// Validate checks that addr is a well formed record address.
func Validate(addr string) error {
	c, err := cid.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if c.Version() != 1 || c.Type() != uint64(multicodec.Raw) {
		return fmt.Errorf("invalid address %q: not a raw CIDv1", addr)
	}
	return nil
}
