package signature

import (
	"strings"
	"testing"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedhavyas/go-subkey"
)

func devProvider(t *testing.T) *Provider {
	t.Helper()
	keypair, err := sr25519.NewKeypairFromMnenomic(subkey.DevPhrase, "")
	require.NoError(t, err)
	p, err := NewProvider(keypair)
	require.NoError(t, err)
	return p
}

func TestSignProducesVerifiableHex(t *testing.T) {
	p := devProvider(t)
	sig, err := p.Sign("hello")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "0x"))
	assert.Len(t, sig, 2+2*signatureLen)

	ok, err := Verify("hello", sig, p.Address())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("hello!", sig, p.Address())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignaturesAreRandomised(t *testing.T) {
	p := devProvider(t)
	a, err := p.Sign("same")
	require.NoError(t, err)
	b, err := p.Sign("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	for _, sig := range []string{a, b} {
		ok, err := Verify("same", sig, p.Address())
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestProviderWithoutKeypair(t *testing.T) {
	_, err := NewProvider(nil)
	assert.Error(t, err)

	var p Provider
	_, err = p.Sign("x")
	assert.Error(t, err)
	assert.Empty(t, p.Address())
}

func TestOwnershipRoundTrip(t *testing.T) {
	p := devProvider(t)
	hotkey := p.Address()
	sig, err := p.Sign(OwnershipMessage(hotkey))
	require.NoError(t, err)

	ok, err := VerifyOwnership(NewVerifier(), OwnershipMessage(hotkey), sig, hotkey)
	require.NoError(t, err)
	assert.True(t, ok)

	other, err := sr25519.GenerateKeypair()
	require.NoError(t, err)
	otherKey := ToSs58Address(other)
	ok, err = VerifyOwnership(NewVerifier(), OwnershipMessage(otherKey), sig, otherKey)
	require.NoError(t, err)
	assert.False(t, ok, "signature of one hotkey must not prove another")
}
