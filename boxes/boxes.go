// Package boxes implements the frame codec (C7): splitting nonce from
// ciphertext/plaintext on the wire, and the plain/encrypt/decrypt paths
// over the primitives the core is handed.
//
// An OpenBox pairs an unencrypted Message with its Nonce. A ByteBox pairs
// the (possibly encrypted) message bytes with the same Nonce, in the form
// actually carried on the wire: nonce(24) || body.
package boxes

import (
	"fmt"

	"github.com/cvsouth/saltyrtc-go/message"
	"github.com/cvsouth/saltyrtc-go/nonce"
	"github.com/cvsouth/saltyrtc-go/primitives"
)

// OpenBox is an unencrypted message together with its nonce.
type OpenBox struct {
	Message message.Message
	Nonce   nonce.Nonce
}

// New constructs an OpenBox.
func New(msg message.Message, n nonce.Nonce) OpenBox {
	return OpenBox{Message: msg, Nonce: n}
}

// Encode serializes the message without encryption, producing a ByteBox.
// Used only for server-hello and client-hello, while both peers are still
// in the unauthenticated New sub-state.
func (o OpenBox) Encode() (ByteBox, error) {
	body, err := message.Encode(o.Message)
	if err != nil {
		return ByteBox{}, err
	}
	return ByteBox{Bytes: body, Nonce: o.Nonce}, nil
}

// Encrypt public-key-seals the message for otherKey using keystore's
// private key.
func (o OpenBox) Encrypt(keystore *primitives.KeyStore, otherKey primitives.PublicKey) (ByteBox, error) {
	body, err := message.Encode(o.Message)
	if err != nil {
		return ByteBox{}, err
	}
	ciphertext := keystore.Encrypt(body, o.Nonce.Bytes(), otherKey)
	return ByteBox{Bytes: ciphertext, Nonce: o.Nonce}, nil
}

// EncryptToken secret-key-seals the message using the one-shot auth token.
func (o OpenBox) EncryptToken(token *primitives.AuthToken) (ByteBox, error) {
	body, err := message.Encode(o.Message)
	if err != nil {
		return ByteBox{}, err
	}
	ciphertext := token.Encrypt(body, o.Nonce.Bytes())
	return ByteBox{Bytes: ciphertext, Nonce: o.Nonce}, nil
}

// ByteBox is the message body (plaintext, public-key ciphertext, or
// secret-key ciphertext) together with its nonce — the wire-level frame
// split apart.
type ByteBox struct {
	Bytes []byte
	Nonce nonce.Nonce
}

// FromFrame splits a raw inbound frame (nonce || body) into a ByteBox.
func FromFrame(frame []byte) (ByteBox, error) {
	if len(frame) <= nonce.Len {
		return ByteBox{}, fmt.Errorf("message is too short")
	}
	n, err := nonce.FromBytes(frame[:nonce.Len])
	if err != nil {
		return ByteBox{}, fmt.Errorf("cannot decode nonce")
	}
	return ByteBox{Bytes: frame[nonce.Len:], Nonce: n}, nil
}

// ToFrame reassembles the wire frame: nonce(24) || body.
func (b ByteBox) ToFrame() []byte {
	n := b.Nonce.Bytes()
	frame := make([]byte, 0, nonce.Len+len(b.Bytes))
	frame = append(frame, n[:]...)
	frame = append(frame, b.Bytes...)
	return frame
}

// Decode parses the (unencrypted) body as a Message. Only valid while the
// sender's handshake sub-state is New.
func (b ByteBox) Decode() (OpenBox, error) {
	msg, err := message.Decode(b.Bytes)
	if err != nil {
		return OpenBox{}, err
	}
	return OpenBox{Message: msg, Nonce: b.Nonce}, nil
}

// AuthError reports a box-open authentication failure, distinct from a
// message.DecodeError/InvalidMessageError arising afterwards while decoding
// the now-trusted plaintext.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

// Decrypt public-key-opens the body using keystore's private key and
// otherKey, then decodes the resulting plaintext as a Message. The returned
// error is an *AuthError if the box itself failed to authenticate, or
// whatever message.Decode returned (a *message.DecodeError or
// *message.InvalidMessageError) if opening succeeded but the plaintext
// didn't parse.
func (b ByteBox) Decrypt(keystore *primitives.KeyStore, otherKey primitives.PublicKey) (OpenBox, error) {
	plaintext, err := keystore.Decrypt(b.Bytes, b.Nonce.Bytes(), otherKey)
	if err != nil {
		return OpenBox{}, &AuthError{Reason: err.Error()}
	}
	msg, err := message.Decode(plaintext)
	if err != nil {
		return OpenBox{}, err
	}
	return OpenBox{Message: msg, Nonce: b.Nonce}, nil
}
