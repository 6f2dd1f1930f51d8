package signature

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/rs/zerolog/log"
	"github.com/vedhavyas/go-subkey"
)

const signatureLen = 64

// Verifier checks a signature over message against an SS58 address.
type Verifier interface {
	Verify(message, signature, ss58Address string) (bool, error)
}

// SS58Verifier verifies sr25519 signatures from addresses of one network.
type SS58Verifier struct {
	network uint16
}

// NewVerifier accepts addresses in the bittensor SS58 format.
func NewVerifier() *SS58Verifier {
	return &SS58Verifier{network: SS58Prefix}
}

func (v *SS58Verifier) Verify(message, signature, ss58Address string) (bool, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return false, err
	}

	network, pub, err := subkey.SS58Decode(ss58Address)
	if err != nil {
		return false, fmt.Errorf("failed to decode ss58 address %q: %w", ss58Address, err)
	}
	if network != v.network {
		return false, fmt.Errorf("address %s is for network %d, want %d", ss58Address, network, v.network)
	}

	key, err := sr25519.NewPublicKey(pub)
	if err != nil {
		return false, fmt.Errorf("failed to create public key: %w", err)
	}
	ok, err := key.Verify([]byte(message), sig)
	if err != nil {
		log.Debug().Err(err).Str("hotkey", ss58Address).Msg("signature rejected")
		return false, fmt.Errorf("failed to verify signature: %w", err)
	}
	return ok, nil
}

// Verify checks signature with the default verifier.
func Verify(message, signature, ss58Address string) (bool, error) {
	return NewVerifier().Verify(message, signature, ss58Address)
}

func decodeSignature(signature string) ([]byte, error) {
	raw, ok := strings.CutPrefix(signature, "0x")
	if !ok {
		return nil, fmt.Errorf("signature does not start with 0x")
	}
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature hex: %w", err)
	}
	if len(sig) != signatureLen {
		return nil, fmt.Errorf("invalid signature length: expected %d bytes, got %d", signatureLen, len(sig))
	}
	return sig, nil
}

// VerifyOwnership checks that signature proves control of hotkey over the
// standard ownership message.
func VerifyOwnership(v Verifier, message, signature, hotkey string) (bool, error) {
	if message != OwnershipMessage(hotkey) {
		return false, fmt.Errorf("message does not name hotkey %s", hotkey)
	}
	return v.Verify(message, signature, hotkey)
}
