package address_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/vulnlog/pkg/address"
	"github.com/relves/vulnlog/pkg/types"
)

func TestProtocol_Deterministic(t *testing.T) {
	a := address.Protocol("did:key:z6MkArtifact")
	b := address.Protocol("did:key:z6MkArtifact")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, address.Protocol("did:key:z6MkOther"))
	require.NoError(t, address.Validate(a))
}

func TestDisclosure_NonceSeparatesRecords(t *testing.T) {
	var hacker, target types.Identity = "did:key:z6MkHacker", "did:key:z6MkTarget"

	first := address.Disclosure(hacker, target, 0)
	second := address.Disclosure(hacker, target, 1)
	assert.NotEqual(t, first, second)
	assert.Equal(t, first, address.Disclosure(hacker, target, 0))
	assert.NotEqual(t, first, address.Disclosure(target, hacker, 0))
}

func TestDerive_LengthPrefixed(t *testing.T) {
	// Without length prefixes these two seed lists would hash identically.
	a := address.Derive([]byte("ab"), []byte("c"))
	b := address.Derive([]byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
}

func TestNamespacesDiffer(t *testing.T) {
	p := address.Protocol("did:key:z6MkArtifact")
	assert.NotEqual(t, address.Policy(p), address.Vault(p))
	assert.NotEqual(t, address.Receipt("d", "v"), address.Receipt("v", "d"))
}

func TestValidate_Rejects(t *testing.T) {
	assert.Error(t, address.Validate("not-a-cid"))
	assert.Error(t, address.Validate(""))
}
