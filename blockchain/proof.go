package blockchain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// PoW targets are fixed 256-bit thresholds: a block's hash,
// interpreted as an unsigned big-endian integer, must fall strictly
// below Target for the proof to be valid. uint256 (rather than
// math/big) is the fixed-width type for exactly this comparison,
// since a block hash is always 32 bytes and never needs arbitrary
// precision.
var (
	// PowBaseTarget is 2^256 - 1, the maximum possible 256-bit value.
	PowBaseTarget = uint256.MustFromHex("0x" + strings.Repeat("f", 64))

	// HitPowTarget is the default proof target: base >> 15.
	HitPowTarget = new(uint256.Int).Rsh(PowBaseTarget, 15)

	// NearMissPowTarget is base >> 18: eight times smaller than
	// HitPowTarget, so a hash below it is harder to find, not easier.
	NearMissPowTarget = new(uint256.Int).Rsh(PowBaseTarget, 18)
)

// DefaultCoinbaseReward is the gold a sealed block's winner is paid,
// credited on the next block's construction.
const DefaultCoinbaseReward int64 = 25

// hashToUint256 interprets a hex-encoded SHA-256 digest as an
// unsigned 256-bit integer.
func hashToUint256(hexHash string) (*uint256.Int, error) {
	raw, err := hex.DecodeString(hexHash)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("blockchain: hash is %d bytes, want 32", len(raw))
	}
	return new(uint256.Int).SetBytes(raw), nil
}
