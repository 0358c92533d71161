// Package nonce implements the 24-byte wire nonce (C5): cookie(16) ||
// src(1) || dst(1) || overflow(2) || sequence(4), big-endian.
package nonce

import (
	"fmt"

	"github.com/cvsouth/saltyrtc-go/cookie"
	"github.com/cvsouth/saltyrtc-go/csn"
	"github.com/cvsouth/saltyrtc-go/identity"
)

// Len is the fixed byte length of an encoded Nonce.
const Len = 24

// Nonce is a plain-old-value 24-byte type, freely copyable. Both src and
// dst accept any byte value at parse time; semantic validation relative to
// peer state is the validator's job (C9), not this package's.
type Nonce struct {
	Cookie cookie.Cookie
	Src    identity.Address
	Dst    identity.Address
	CSN    csn.CSN
}

// New constructs a Nonce from its parts.
func New(c cookie.Cookie, src, dst identity.Address, sequence csn.CSN) Nonce {
	return Nonce{Cookie: c, Src: src, Dst: dst, CSN: sequence}
}

// Bytes encodes the nonce into its 24-byte wire form.
func (n Nonce) Bytes() [Len]byte {
	var b [Len]byte
	copy(b[0:16], n.Cookie[:])
	b[16] = byte(n.Src)
	b[17] = byte(n.Dst)
	csnBytes := n.CSN.Bytes()
	copy(b[18:24], csnBytes[:])
	return b
}

// FromBytes decodes a Nonce from the first 24 bytes of b. Shorter input
// fails with "cannot decode nonce"; bytes past the 24th are ignored.
func FromBytes(b []byte) (Nonce, error) {
	if len(b) < Len {
		return Nonce{}, fmt.Errorf("cannot decode nonce")
	}
	c, err := cookie.FromBytes(b[0:16])
	if err != nil {
		return Nonce{}, fmt.Errorf("cannot decode nonce: %w", err)
	}
	sequence, err := csn.FromBytes(b[18:24])
	if err != nil {
		return Nonce{}, fmt.Errorf("cannot decode nonce: %w", err)
	}
	return Nonce{
		Cookie: c,
		Src:    identity.Address(b[16]),
		Dst:    identity.Address(b[17]),
		CSN:    sequence,
	}, nil
}
