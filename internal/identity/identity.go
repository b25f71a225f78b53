// Package identity handles loading, generating, and persisting account
// keypairs. Keys are stored as PEM files with 0600 permissions: ed25519 keys
// in PKCS8 form, secp256k1 keys as the raw 32 byte scalar.
package identity

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	pemTypeEd25519   = "PRIVATE KEY"
	pemTypeSecp256k1 = "SECP256K1 PRIVATE KEY"
)

// LoadOrCreateIdentity loads an existing identity or creates a new ed25519
// one at keyPath. This is the main entry point for node identity management.
func LoadOrCreateIdentity(keyPath string) (*Identity, error) {
	return LoadOrCreateIdentityScheme(keyPath, SchemeEd25519)
}

// LoadOrCreateIdentityScheme loads the key at keyPath, or generates one of
// the requested scheme when the file is missing or empty. An existing file
// keeps its own scheme regardless of the argument.
func LoadOrCreateIdentityScheme(keyPath string, scheme Scheme) (*Identity, error) {
	info, err := os.Stat(keyPath)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return generateAndSave(keyPath, scheme)
	}
	if err != nil {
		return nil, err
	}
	return loadIdentity(keyPath)
}

func generateAndSave(keyPath string, scheme Scheme) (*Identity, error) {
	var (
		block *pem.Block
		id    *Identity
	)
	switch scheme {
	case SchemeEd25519, "":
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, err
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, err
		}
		block = &pem.Block{Type: pemTypeEd25519, Bytes: der}
		id = NewIdentity(priv)
	case SchemeSecp256k1:
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, err
		}
		block = &pem.Block{Type: pemTypeSecp256k1, Bytes: priv.Serialize()}
		id = NewSecp256k1Identity(priv)
	default:
		return nil, fmt.Errorf("unsupported key scheme %q", scheme)
	}

	file, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := pem.Encode(file, block); err != nil {
		return nil, err
	}
	return id, nil
}

func loadIdentity(keyPath string) (*Identity, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	pemBlock, _ := pem.Decode(keyData)
	if pemBlock == nil {
		return nil, errors.New("failed to decode PEM block from key file")
	}

	switch pemBlock.Type {
	case pemTypeSecp256k1:
		if len(pemBlock.Bytes) != btcec.PrivKeyBytesLen {
			return nil, fmt.Errorf("secp256k1 key must be %d bytes", btcec.PrivKeyBytesLen)
		}
		priv, _ := btcec.PrivKeyFromBytes(pemBlock.Bytes)
		return NewSecp256k1Identity(priv), nil
	case pemTypeEd25519:
		genericKey, err := x509.ParsePKCS8PrivateKey(pemBlock.Bytes)
		if err != nil {
			return nil, err
		}
		privKey, ok := genericKey.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("key is not an ed25519 private key")
		}
		return NewIdentity(privKey), nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", pemBlock.Type)
	}
}
