// Package identity manages account keypairs and signing utilities. Every
// caller of the ledger is identified by a public key; the hex form of that
// key is the canonical AccountID used for ownership checks. Two schemes are
// supported: ed25519 (the node default) and secp256k1 for wallet-style
// clients.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Scheme names a signature algorithm.
type Scheme string

const (
	SchemeEd25519   Scheme = "ed25519"
	SchemeSecp256k1 Scheme = "secp256k1"
)

// Identity represents an account's cryptographic identity
type Identity struct {
	scheme       Scheme
	edKey        ed25519.PrivateKey
	secpKey      *btcec.PrivateKey
	publicKey    []byte
	publicKeyHex string
}

// NewIdentity creates a new ed25519 Identity from a private key
func NewIdentity(privKey ed25519.PrivateKey) *Identity {
	pubKey := privKey.Public().(ed25519.PublicKey)
	return &Identity{
		scheme:       SchemeEd25519,
		edKey:        privKey,
		publicKey:    []byte(pubKey),
		publicKeyHex: hex.EncodeToString(pubKey),
	}
}

// NewSecp256k1Identity creates a secp256k1 Identity. The public key is kept
// in 33 byte compressed form.
func NewSecp256k1Identity(privKey *btcec.PrivateKey) *Identity {
	pubKey := privKey.PubKey().SerializeCompressed()
	return &Identity{
		scheme:       SchemeSecp256k1,
		secpKey:      privKey,
		publicKey:    pubKey,
		publicKeyHex: hex.EncodeToString(pubKey),
	}
}

// Sign signs the provided message with the identity's private key. For
// secp256k1 the message is hashed with SHA-256 and the DER signature returned.
func (i *Identity) Sign(message []byte) []byte {
	if i.scheme == SchemeSecp256k1 {
		digest := sha256.Sum256(message)
		return ecdsa.Sign(i.secpKey, digest[:]).Serialize()
	}
	return ed25519.Sign(i.edKey, message)
}

// Verify verifies a signature against a message using the identity's public key
func (i *Identity) Verify(message, signature []byte) bool {
	return VerifySignature(i.publicKey, message, signature)
}

func (i *Identity) Scheme() Scheme {
	return i.scheme
}

// PublicKey returns a copy of the raw public key
func (i *Identity) PublicKey() []byte {
	out := make([]byte, len(i.publicKey))
	copy(out, i.publicKey)
	return out
}

// PublicKeyHex returns the hex-encoded public key string.
// This is the canonical account identifier on the ledger.
func (i *Identity) PublicKeyHex() string {
	return i.publicKeyHex
}

// PublicKeyHex encodes a raw public key the way account IDs are written.
func PublicKeyHex(pub []byte) string {
	return hex.EncodeToString(pub)
}

// VerifySignature checks sig over message for either supported scheme. The
// scheme is inferred from the key length: 32 bytes is ed25519, 33 bytes is a
// compressed secp256k1 key.
func VerifySignature(pub, message, sig []byte) bool {
	switch len(pub) {
	case ed25519.PublicKeySize:
		return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
	case btcec.PubKeyBytesLenCompressed:
		key, err := btcec.ParsePubKey(pub)
		if err != nil {
			return false
		}
		parsed, err := ecdsa.ParseDERSignature(sig)
		if err != nil {
			return false
		}
		digest := sha256.Sum256(message)
		return parsed.Verify(digest[:], key)
	default:
		return false
	}
}
