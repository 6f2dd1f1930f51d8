package signature

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

type keyfile struct {
	SecretPhrase string `json:"secretPhrase"`
}

// ExpandHome resolves a leading ~/ against the current user's home.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	usr, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	return filepath.Join(usr.HomeDir, path[2:]), nil
}

// LoadMnemonic reads the secret phrase from a bittensor hotkey file.
func LoadMnemonic(path string) (string, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to read keypair file")
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	var kf keyfile
	if err := sonic.Unmarshal(data, &kf); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to parse keypair JSON")
		return "", fmt.Errorf("failed to parse JSON: %w", err)
	}
	if kf.SecretPhrase == "" {
		return "", fmt.Errorf("secretPhrase not found in JSON")
	}
	return kf.SecretPhrase, nil
}

// HotkeyPath is where bittensor keeps the hotkey file of a wallet.
func HotkeyPath(bittensorDir, coldkeyName, hotkeyName string) (string, error) {
	switch {
	case bittensorDir == "":
		return "", fmt.Errorf("bittensor directory is required")
	case coldkeyName == "":
		return "", fmt.Errorf("wallet coldkey name is required")
	case hotkeyName == "":
		return "", fmt.Errorf("wallet hotkey name is required")
	}
	return filepath.Join(bittensorDir, "wallets", coldkeyName, "hotkeys", hotkeyName), nil
}

// LoadKeypairFromHotkey loads the sr25519 keypair of a wallet hotkey.
func LoadKeypairFromHotkey(bittensorDir, coldkeyName, hotkeyName string) (*sr25519.Keypair, error) {
	path, err := HotkeyPath(bittensorDir, coldkeyName, hotkeyName)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Str("hotkey_name", hotkeyName).Msg("Loading keypair from hotkey path")

	mnemonic, err := LoadMnemonic(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load seed phrase: %w", err)
	}

	keypair, err := sr25519.NewKeypairFromMnenomic(mnemonic, "")
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to create keypair from seed phrase")
		return nil, fmt.Errorf("failed to create keypair from seed phrase: %w", err)
	}
	return keypair, nil
}
