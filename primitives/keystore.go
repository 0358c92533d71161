// Package primitives wraps the NaCl-style public-key and secret-key box
// primitives the signaling core depends on (C1). It never performs I/O.
package primitives

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// PublicKey is a Curve25519 public key.
type PublicKey [32]byte

// PrivateKey is a Curve25519 private key.
type PrivateKey [32]byte

// KeyStore owns a Curve25519 keypair and performs public-key box
// encryption/decryption on its behalf. It may hold either a permanent or a
// session keypair; the caller is responsible for keeping the two apart.
type KeyStore struct {
	public  PublicKey
	private PrivateKey
}

// NewKeyStore generates a fresh random keypair.
func NewKeyStore() (*KeyStore, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	ks := &KeyStore{public: PublicKey(*pub), private: PrivateKey(*priv)}
	return ks, nil
}

// KeyStoreFromPrivateKey derives a KeyStore from an existing private key.
func KeyStoreFromPrivateKey(priv PrivateKey) (*KeyStore, error) {
	var pub [32]byte
	privBytes := [32]byte(priv)
	out, err := curve25519.X25519(privBytes[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	copy(pub[:], out)
	return &KeyStore{public: PublicKey(pub), private: priv}, nil
}

// PublicKey returns the store's public key.
func (ks *KeyStore) PublicKey() PublicKey {
	return ks.public
}

// Equal reports whether two key stores hold the same public key.
func (ks *KeyStore) Equal(other *KeyStore) bool {
	if ks == nil || other == nil {
		return ks == other
	}
	return ks.public == other.public
}

// Encrypt seals plaintext for theirPublic using our private key. The nonce
// is the 24-byte wire nonce; it is never generated here (the caller
// constructs it from cookie/src/dst/csn, per spec).
func (ks *KeyStore) Encrypt(plaintext []byte, nonce [24]byte, theirPublic PublicKey) []byte {
	priv := [32]byte(ks.private)
	pub := [32]byte(theirPublic)
	return box.Seal(nil, plaintext, &nonce, &pub, &priv)
}

// Decrypt opens a box sealed by theirPublic's matching private key.
func (ks *KeyStore) Decrypt(ciphertext []byte, nonce [24]byte, theirPublic PublicKey) ([]byte, error) {
	priv := [32]byte(ks.private)
	pub := [32]byte(theirPublic)
	plaintext, ok := box.Open(nil, ciphertext, &nonce, &pub, &priv)
	if !ok {
		return nil, fmt.Errorf("box authentication failed")
	}
	return plaintext, nil
}

// Close zeroes the private key. Call on error paths or once the store is no
// longer needed; there is no other teardown.
func (ks *KeyStore) Close() {
	for i := range ks.private {
		ks.private[i] = 0
	}
}

// AuthToken is a 32-byte shared secret used at most once, by the responder,
// to secret-key-encrypt the `token` message.
type AuthToken struct {
	secret [32]byte
}

// NewAuthToken generates a fresh random auth token.
func NewAuthToken() (*AuthToken, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("generate auth token: %w", err)
	}
	return &AuthToken{secret: secret}, nil
}

// AuthTokenFromBytes wraps an existing 32-byte shared secret (e.g. received
// out-of-band from the initiator).
func AuthTokenFromBytes(secret [32]byte) *AuthToken {
	return &AuthToken{secret: secret}
}

// Secret returns the raw shared secret bytes.
func (t *AuthToken) Secret() [32]byte {
	return t.secret
}

// Encrypt secret-key-seals plaintext under the token.
func (t *AuthToken) Encrypt(plaintext []byte, nonce [24]byte) []byte {
	return secretbox.Seal(nil, plaintext, &nonce, &t.secret)
}

// Decrypt opens a box sealed under the token.
func (t *AuthToken) Decrypt(ciphertext []byte, nonce [24]byte) ([]byte, error) {
	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &t.secret)
	if !ok {
		return nil, fmt.Errorf("secretbox authentication failed")
	}
	return plaintext, nil
}

// Close zeroes the shared secret.
func (t *AuthToken) Close() {
	for i := range t.secret {
		t.secret[i] = 0
	}
}
