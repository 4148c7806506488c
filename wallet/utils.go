package wallet

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// shortFingerprintLen is the number of base58 characters a
// ShortFingerprint renders — long enough to eyeball-compare two
// addresses in a terminal, short enough to fit on one line of output.
const shortFingerprintLen = 8

// ShortFingerprint renders a short, human-friendly base58 label for
// an arbitrary identifier (an address, a block hash, a transaction
// id). It is a display aid only: two different identifiers can in
// principle collide on their fingerprint, so it must never be used
// for equality checks or consensus decisions.
func ShortFingerprint(id string) (string, error) {
	sum := sha256.Sum256([]byte(id))
	encoded := base58.Encode(sum[:])
	if len(encoded) > shortFingerprintLen {
		encoded = encoded[:shortFingerprintLen]
	}
	return encoded, nil
}
