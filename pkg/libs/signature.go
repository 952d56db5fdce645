package libs

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature = errors.New("signature does not match the device public key")
	ErrUnsupportedKey   = errors.New("unsupported device public key")
)

// VerifySignature checks sig over msg against a DER encoded public key.
// Ed25519 keys sign msg itself, ECDSA keys sign its SHA-256 digest.
func VerifySignature(pubKeyDER, msg, sig []byte) error {
	if len(sig) == 0 {
		return ErrInvalidSignature
	}
	pub, err := x509.ParsePKIXPublicKey(pubKeyDER)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedKey, err)
	}
	switch key := pub.(type) {
	case ed25519.PublicKey:
		if !ed25519.Verify(key, msg, sig) {
			return ErrInvalidSignature
		}
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(msg)
		if !ecdsa.VerifyASN1(key, digest[:], sig) {
			return ErrInvalidSignature
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
	return nil
}

// SignWithSeed answers a challenge with a software authenticator key.
func SignWithSeed(seed, msg []byte) ([]byte, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrNoCredential
	}
	return ed25519.Sign(ed25519.NewKeyFromSeed(seed), msg), nil
}
