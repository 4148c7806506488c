// Package crypto implements the hashing, keypair, and signature
// primitives the rest of the ledger is built on.
//
// The scheme is RSA-PKCS1v15 with a SHA-256 digest rather than the
// ECDSA-over-P256 scheme older blockchain tutorials reach for, because
// addresses and signatures here must be bit-identical across
// independent implementations of the same wire format. Everything is
// rendered as text (hex or base64) so it round-trips through JSON
// without a byte-string encoding ambiguity.
package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// DefaultKeyBits is intentionally small: tests mint dozens of keypairs
// per run and a production modulus size would make the suite glacial.
// A real deployment should raise this considerably.
const DefaultKeyBits = 1024

// KeyPair bundles the two halves of a signing identity.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeypair mints a fresh RSA keypair with the given modulus
// size. Pass DefaultKeyBits unless a caller has a specific reason to
// deviate (e.g. a benchmark wanting production-sized keys).
func GenerateKeypair(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// Hash renders the SHA-256 digest of data in the requested encoding,
// "hex" or "base64". Any other encoding is an error.
func Hash(data []byte, encoding string) (string, error) {
	sum := sha256.Sum256(data)
	switch encoding {
	case "hex":
		return hex.EncodeToString(sum[:]), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("crypto: unknown hash encoding %q", encoding)
	}
}

// PublicKeyText renders a public key as its canonical text form: a
// PEM-encoded PKIX structure. Every signer, verifier, and address
// derivation in the system must agree on this exact encoding, since
// it is what gets hashed and what travels on the wire.
func PublicKeyText(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "RSA PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// ParsePublicKeyText inverts PublicKeyText.
func ParsePublicKeyText(text string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(text))
	if block == nil {
		return nil, errors.New("crypto: no PEM block found in public key text")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("crypto: public key is not RSA")
	}
	return pub, nil
}

// Sign produces a hex-encoded RSA-SHA256 signature over message's
// UTF-8 bytes. Callers that need to sign a compound value must first
// reduce it to its canonical text form (e.g. a transaction id) so that
// signer and verifier hash identical bytes.
func Sign(priv *rsa.PrivateKey, message string) (string, error) {
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, stdcrypto.SHA256, signPrefixed(digest[:]))
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// VerifySignature is the inverse of Sign.
func VerifySignature(pub *rsa.PublicKey, message, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(message))
	return rsa.VerifyPKCS1v15(pub, stdcrypto.SHA256, signPrefixed(digest[:]), sig) == nil
}

// signPrefixed exists only so Sign/VerifySignature can share one
// digest-preparation step; with hash=SHA256, rsa.SignPKCS1v15 and
// rsa.VerifyPKCS1v15 add the SHA-256 DigestInfo prefix themselves, so
// both sides hand them the bare SHA-256 digest.
func signPrefixed(digest []byte) []byte {
	return digest
}

// CalcAddress derives the address identifying pub: the base64
// rendering of SHA-256(PublicKeyText(pub)).
func CalcAddress(pub *rsa.PublicKey) (string, error) {
	text, err := PublicKeyText(pub)
	if err != nil {
		return "", err
	}
	return Hash([]byte(text), "base64")
}

// AddressMatchesKey reports whether address is the address derived
// from pub.
func AddressMatchesKey(address string, pub *rsa.PublicKey) bool {
	derived, err := CalcAddress(pub)
	if err != nil {
		return false
	}
	return derived == address
}
