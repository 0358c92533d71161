// Package peer holds the per-peer state the signaling core tracks: cookie
// pairs, CSN pairs, handshake sub-states, and keys (C8). One ServerContext
// always exists; zero or many ResponderContexts exist for an initiator;
// exactly one InitiatorContext exists for a responder.
package peer

import (
	"github.com/cvsouth/saltyrtc-go/cookie"
	"github.com/cvsouth/saltyrtc-go/csn"
	"github.com/cvsouth/saltyrtc-go/identity"
	"github.com/cvsouth/saltyrtc-go/primitives"
)

// ServerHandshakeState is a peer's server-handshake sub-state.
type ServerHandshakeState int

const (
	ServerNew ServerHandshakeState = iota
	ServerClientInfoSent
	ServerDone
)

func (s ServerHandshakeState) String() string {
	switch s {
	case ServerNew:
		return "New"
	case ServerClientInfoSent:
		return "ClientInfoSent"
	case ServerDone:
		return "Done"
	default:
		return "Invalid"
	}
}

// InitiatorHandshakeState is the responder's view of the peer-handshake
// progress with its initiator. Only New and KeySent are driven by this
// core; the remainder of the state machine (TokenReceived, KeyReceived,
// AuthReceived, Done) is an explicit Open Question left to the task layer
// (see SPEC_FULL.md §5).
type InitiatorHandshakeState int

const (
	InitiatorNew InitiatorHandshakeState = iota
	InitiatorKeySent
	InitiatorDone
)

func (s InitiatorHandshakeState) String() string {
	switch s {
	case InitiatorNew:
		return "New"
	case InitiatorKeySent:
		return "KeySent"
	case InitiatorDone:
		return "Done"
	default:
		return "Invalid"
	}
}

// ResponderHandshakeState is the initiator's view of the peer-handshake
// progress with one particular responder. The core never advances this
// state past New (see SPEC_FULL.md §5's Open Question on initiator-side
// peer-handshake acceptance); it exists so a task layer can extend it.
type ResponderHandshakeState int

const (
	ResponderNew ResponderHandshakeState = iota
)

func (s ResponderHandshakeState) String() string {
	switch s {
	case ResponderNew:
		return "New"
	default:
		return "Invalid"
	}
}

// CSNPair tracks our outgoing CSN and the peer's last-seen incoming CSN.
type CSNPair struct {
	Ours   csn.CSN
	Theirs *csn.CSN
}

// CookiePair tracks our outgoing cookie and the peer's cookie.
type CookiePair = cookie.Pair

// ServerContext is the signaling state held for the server peer.
type ServerContext struct {
	CookiePair     CookiePair
	CSNPair        CSNPair
	HandshakeState ServerHandshakeState
	PermanentKey   *primitives.PublicKey // learned from server-hello
	SessionKey     *primitives.PublicKey // learned from a verified signed_keys box
}

// NewServerContext creates a fresh ServerContext with a random cookie and a
// zero initial CSN.
func NewServerContext() (*ServerContext, error) {
	pair, err := cookie.NewPair()
	if err != nil {
		return nil, err
	}
	return &ServerContext{CookiePair: pair}, nil
}

// Identity always returns the server identity.
func (s *ServerContext) Identity() identity.Identity { return identity.IdentityServer }

// Cookies returns the server's cookie pair.
func (s *ServerContext) Cookies() *CookiePair { return &s.CookiePair }

// CSNs returns the server's CSN pair.
func (s *ServerContext) CSNs() *CSNPair { return &s.CSNPair }

// InitiatorContext is the responder's view of the (single) initiator peer.
type InitiatorContext struct {
	CookiePair     CookiePair
	CSNPair        CSNPair
	HandshakeState InitiatorHandshakeState
	PermanentKey   primitives.PublicKey // known at construction time
}

// NewInitiatorContext creates a fresh InitiatorContext for the given
// initiator permanent public key.
func NewInitiatorContext(initiatorPubkey primitives.PublicKey) (*InitiatorContext, error) {
	pair, err := cookie.NewPair()
	if err != nil {
		return nil, err
	}
	return &InitiatorContext{CookiePair: pair, PermanentKey: initiatorPubkey}, nil
}

// Identity always returns the initiator identity.
func (i *InitiatorContext) Identity() identity.Identity { return identity.IdentityInitiator }

// Cookies returns the initiator's cookie pair.
func (i *InitiatorContext) Cookies() *CookiePair { return &i.CookiePair }

// CSNs returns the initiator's CSN pair.
func (i *InitiatorContext) CSNs() *CSNPair { return &i.CSNPair }

// ResponderContext is the initiator's view of one particular responder.
type ResponderContext struct {
	Address        identity.Address
	CookiePair     CookiePair
	CSNPair        CSNPair
	HandshakeState ResponderHandshakeState
}

// NewResponderContext creates a fresh ResponderContext for addr.
func NewResponderContext(addr identity.Address) (*ResponderContext, error) {
	pair, err := cookie.NewPair()
	if err != nil {
		return nil, err
	}
	return &ResponderContext{Address: addr, CookiePair: pair}, nil
}

// Identity returns the responder identity for this context's address.
func (r *ResponderContext) Identity() identity.Identity {
	return identity.IdentityResponder(uint8(r.Address))
}

// Cookies returns the responder's cookie pair.
func (r *ResponderContext) Cookies() *CookiePair { return &r.CookiePair }

// CSNs returns the responder's CSN pair.
func (r *ResponderContext) CSNs() *CSNPair { return &r.CSNPair }

// Context is the common shape the nonce validator and message handlers use
// to address any peer, regardless of role (ServerContext,
// InitiatorContext, or ResponderContext).
type Context interface {
	Identity() identity.Identity
	Cookies() *CookiePair
	CSNs() *CSNPair
}

var (
	_ Context = (*ServerContext)(nil)
	_ Context = (*InitiatorContext)(nil)
	_ Context = (*ResponderContext)(nil)
)
