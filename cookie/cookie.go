// Package cookie implements the 16-byte random per-peer cookie (C3).
package cookie

import (
	"crypto/rand"
	"fmt"
)

// Len is the fixed byte length of a Cookie.
const Len = 16

// Cookie is a 16-byte random token identifying one side of a peer
// relationship.
type Cookie [Len]byte

// New generates a fresh random cookie.
func New() (Cookie, error) {
	var c Cookie
	if _, err := rand.Read(c[:]); err != nil {
		return c, fmt.Errorf("generate cookie: %w", err)
	}
	return c, nil
}

// FromBytes copies exactly Len bytes into a Cookie.
func FromBytes(b []byte) (Cookie, error) {
	var c Cookie
	if len(b) != Len {
		return c, fmt.Errorf("cookie must be %d bytes, got %d", Len, len(b))
	}
	copy(c[:], b)
	return c, nil
}

// Equal reports whether two cookies are byte-identical.
func (c Cookie) Equal(other Cookie) bool {
	return c == other
}

// Pair holds the cookie we generated for a peer relationship ("ours",
// fixed for the lifetime of the pair) and the cookie the peer sent us
// ("theirs", learned from the first validated message).
type Pair struct {
	Ours   Cookie
	Theirs *Cookie
}

// NewPair generates a fresh "ours" cookie with "theirs" unset.
func NewPair() (Pair, error) {
	ours, err := New()
	if err != nil {
		return Pair{}, err
	}
	return Pair{Ours: ours}, nil
}
