package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSignerMismatch = errors.New("signature does not match wallet")

// HashMessage constructs the EIP-191 personal_sign hash:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
func HashMessage(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// ParseSignature decodes a 0x-prefixed or bare hex signature.
func ParseSignature(s string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signature hex: %w", err)
	}
	return sig, nil
}

// Recover extracts the signer address from a personal_sign signature.
// sig must be 65 bytes (R || S || V), with V in {0,1} or {27,28}.
func Recover(msg []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(HashMessage(msg), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyWallet checks that wallet signed msg and returns the wallet as an
// address.
func VerifyWallet(msg, sig []byte, wallet string) (common.Address, error) {
	if !common.IsHexAddress(wallet) {
		return common.Address{}, fmt.Errorf("invalid wallet address %q", wallet)
	}
	signer, err := Recover(msg, sig)
	if err != nil {
		return common.Address{}, err
	}
	if signer != common.HexToAddress(wallet) {
		return common.Address{}, ErrSignerMismatch
	}
	return signer, nil
}
