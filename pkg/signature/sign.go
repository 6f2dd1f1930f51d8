// Package signature signs and verifies sr25519 messages for bittensor
// hotkeys addressed in SS58 form.
package signature

import (
	"encoding/hex"
	"fmt"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/vedhavyas/go-subkey"
)

// SS58Prefix is the generic substrate address format bittensor hotkeys use.
const SS58Prefix uint16 = 42

// Signer signs messages on behalf of one hotkey.
type Signer interface {
	Sign(message string) (string, error)
	Address() string
}

// Provider signs with an in-memory hotkey keypair.
type Provider struct {
	keypair *sr25519.Keypair
}

func NewProvider(keypair *sr25519.Keypair) (*Provider, error) {
	if keypair == nil {
		return nil, fmt.Errorf("keypair cannot be nil")
	}
	return &Provider{keypair: keypair}, nil
}

// Sign returns the 0x-prefixed hex signature of message.
func (p *Provider) Sign(message string) (string, error) {
	if p.keypair == nil {
		return "", fmt.Errorf("provider has no keypair")
	}
	sig, err := p.keypair.Sign([]byte(message))
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func (p *Provider) Address() string {
	if p.keypair == nil {
		return ""
	}
	return ToSs58Address(p.keypair)
}

func ToSs58Address(keypair *sr25519.Keypair) string {
	return subkey.SS58Encode(keypair.Public().Encode(), SS58Prefix)
}

// OwnershipMessage is the message a caller signs to prove it holds hotkey.
func OwnershipMessage(hotkey string) string {
	return "I swear that I am the owner of hotkey:" + hotkey
}
