package commerce

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidateWalletAddress rejects wallet addresses that cannot be charged.
// EVM addresses with mixed case must carry a valid EIP-55 checksum.
func ValidateWalletAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	switch {
	case addr == "":
		return fmt.Errorf("wallet address is empty")
	case strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X"):
		return validateEVM(addr[2:])
	case strings.HasPrefix(strings.ToLower(addr), "bc1"):
		return validateBech32(addr)
	default:
		return validateBase58(addr)
	}
}

func validateEVM(body string) error {
	if len(body) != 40 {
		return fmt.Errorf("wallet address must have 40 hex digits, got %d", len(body))
	}
	if _, err := hex.DecodeString(body); err != nil {
		return fmt.Errorf("wallet address is not hex: %w", err)
	}
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return nil
	}
	if checksumAddress(body) != body {
		return fmt.Errorf("wallet address checksum mismatch")
	}
	return nil
}

// checksumAddress applies EIP-55 casing to a 40 digit hex address body.
func checksumAddress(body string) string {
	lower := strings.ToLower(body)
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(lower))
	digest := hex.EncodeToString(h.Sum(nil))

	out := []byte(lower)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func validateBech32(addr string) error {
	if addr != strings.ToLower(addr) && addr != strings.ToUpper(addr) {
		return fmt.Errorf("wallet address mixes case")
	}
	if len(addr) < 14 || len(addr) > 74 {
		return fmt.Errorf("wallet address has invalid length %d", len(addr))
	}
	for _, c := range strings.ToLower(addr[3:]) {
		if !strings.ContainsRune("qpzry9x8gf2tvdw0s3jn54khce6mua7l", c) {
			return fmt.Errorf("wallet address has invalid character %q", c)
		}
	}
	return nil
}

func validateBase58(addr string) error {
	if len(addr) < 26 || len(addr) > 35 {
		return fmt.Errorf("wallet address has invalid length %d", len(addr))
	}
	for _, c := range addr {
		if !strings.ContainsRune(base58Alphabet, c) {
			return fmt.Errorf("wallet address has invalid character %q", c)
		}
	}
	return nil
}
