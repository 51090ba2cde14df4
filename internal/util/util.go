// Package util collects small stateless helpers shared across the chain
// collaborators: ABI loading, hex conversion, and signer-key decryption.
// None of it is on the hot path (§5); cmd/flasharb calls it once, at
// startup.
package util

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// hardhatArtifact is the subset of a Hardhat compilation artifact this
// module reads: the ABI array, ignoring bytecode and source maps.
type hardhatArtifact struct {
	ABI json.RawMessage `json:"abi"`
}

// LoadABIFromHardhatArtifact reads a Hardhat-style artifact JSON file and
// parses its "abi" field.
func LoadABIFromHardhatArtifact(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read artifact %s: %w", path, err)
	}

	var artifact hardhatArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("parse artifact %s: %w", path, err)
	}

	parsed, err := abi.JSON(bytes.NewReader(artifact.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("decode abi from %s: %w", path, err)
	}
	return parsed, nil
}

// LoadABI reads a plain ABI JSON file (just the array, no Hardhat wrapper).
func LoadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi %s: %w", path, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("decode abi from %s: %w", path, err)
	}
	return parsed, nil
}

// Hex2Bytes decodes a "0x"-prefixed or bare hex string into bytes.
func Hex2Bytes(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// Decrypt reverses a simple AES-GCM encryption of the signer's private key
// material. key is the symmetric key (e.g. from the KEY environment
// variable); encHex is the "0x"-prefixed ciphertext (nonce prepended).
// This is the one piece of key handling this module owns directly — actual
// signing is delegated to the Signer collaborator (§6).
func Decrypt(key []byte, encHex string) (string, error) {
	ciphertext := Hex2Bytes(encHex)
	if ciphertext == nil {
		return "", fmt.Errorf("decrypt: invalid hex ciphertext")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("decrypt: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("decrypt: new gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("decrypt: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: open: %w", err)
	}
	return string(plain), nil
}
