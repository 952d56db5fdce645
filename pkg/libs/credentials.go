package libs

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/oarkflow/anchor/pkg/models"
)

var ErrNoCredential = errors.New("no credential was provided by the security device")

// SoftwareAuthenticator creates ed25519 credentials on the server. It stands
// in for a security device in development setups. The private key seed is
// returned with the credential so the browser can keep it.
type SoftwareAuthenticator struct{}

func (SoftwareAuthenticator) Create(context.Context) (models.Credential, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return models.Credential{}, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return models.Credential{}, err
	}
	sum := blake2b.Sum256(der)
	return models.Credential{PubKey: der, RawID: sum[:16], Seed: priv.Seed()}, nil
}

// StaticCredential hands out a credential the browser created and posted
// as hex.
type StaticCredential struct {
	PubKeyHex string
	RawIDHex  string
}

func (s StaticCredential) Create(context.Context) (models.Credential, error) {
	pubHex := strings.TrimSpace(s.PubKeyHex)
	if pubHex == "" {
		return models.Credential{}, ErrNoCredential
	}
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return models.Credential{}, err
	}
	var rawID []byte
	if raw := strings.TrimSpace(s.RawIDHex); raw != "" {
		rawID, err = hex.DecodeString(raw)
		if err != nil {
			return models.Credential{}, err
		}
	} else {
		sum := blake2b.Sum256(pub)
		rawID = sum[:16]
	}
	return models.Credential{PubKey: pub, RawID: rawID}, nil
}
