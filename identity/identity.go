// Package identity holds the 1-byte address space and role-aware identity
// types used to address peers in a SaltyRTC session (C2).
package identity

import "fmt"

// Role is the role a local client plays in a session.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown role"
	}
}

// Address is a single-byte peer address. 0x00 is the server/unknown
// address, 0x01 is the initiator, and 0x02..0xff are responders.
type Address uint8

const (
	AddressUnknown   Address = 0x00
	AddressServer    Address = 0x00
	AddressInitiator Address = 0x01
)

// IsServer reports whether this is the server address.
func (a Address) IsServer() bool { return a == AddressServer }

// IsUnknown reports whether this is the unknown address.
func (a Address) IsUnknown() bool { return a == AddressUnknown }

// IsInitiator reports whether this is the initiator address.
func (a Address) IsInitiator() bool { return a == AddressInitiator }

// IsResponder reports whether this address falls in the responder range.
func (a Address) IsResponder() bool { return a >= 0x02 }

func (a Address) String() string {
	return fmt.Sprintf("Address(0x%02x)", uint8(a))
}

// Identity is a peer identity: the server, the initiator, a specific
// responder, or unknown (before assignment). It round-trips through
// Address losslessly, except that Unknown and Server share address 0x00.
type Identity struct {
	kind identityKind
	addr uint8 // only meaningful when kind == identityResponder
}

type identityKind uint8

const (
	identityUnknown identityKind = iota
	identityServer
	identityInitiator
	identityResponder
)

var (
	IdentityUnknown   = Identity{kind: identityUnknown}
	IdentityServer    = Identity{kind: identityServer}
	IdentityInitiator = Identity{kind: identityInitiator}
)

// IdentityResponder constructs a responder identity. Panics if addr is
// outside the responder range (0x02..0xff); callers must validate first.
func IdentityResponder(addr uint8) Identity {
	if addr < 0x02 {
		panic(fmt.Sprintf("identity: invalid responder address 0x%02x", addr))
	}
	return Identity{kind: identityResponder, addr: addr}
}

// IdentityFromAddress converts an Address into an Identity. 0x00 maps to
// Server (never Unknown) since Address alone cannot distinguish the two.
func IdentityFromAddress(a Address) Identity {
	switch {
	case a == 0x00:
		return IdentityServer
	case a == 0x01:
		return IdentityInitiator
	default:
		return IdentityResponder(uint8(a))
	}
}

// Address converts an Identity back to its wire Address.
func (id Identity) Address() Address {
	switch id.kind {
	case identityUnknown, identityServer:
		return AddressUnknown
	case identityInitiator:
		return AddressInitiator
	case identityResponder:
		return Address(id.addr)
	default:
		panic("identity: unreachable kind")
	}
}

// IsUnknown reports whether this identity hasn't been assigned yet.
func (id Identity) IsUnknown() bool { return id.kind == identityUnknown }

// IsServer reports whether this identity is the server.
func (id Identity) IsServer() bool { return id.kind == identityServer }

// IsInitiator reports whether this identity is the initiator.
func (id Identity) IsInitiator() bool { return id.kind == identityInitiator }

// IsResponder reports whether this identity is a responder, returning its
// address when true.
func (id Identity) IsResponder() (uint8, bool) {
	if id.kind == identityResponder {
		return id.addr, true
	}
	return 0, false
}

func (id Identity) String() string {
	switch id.kind {
	case identityUnknown:
		return "unknown"
	case identityServer:
		return "server"
	case identityInitiator:
		return "initiator"
	case identityResponder:
		return fmt.Sprintf("responder %d", id.addr)
	default:
		return "invalid"
	}
}

// Equal reports whether two identities denote the same peer.
func (id Identity) Equal(other Identity) bool {
	return id.kind == other.kind && id.addr == other.addr
}

// ClientIdentity is an Identity restricted to the values a local client may
// hold for itself: Unknown, Initiator, or Responder(addr) — never Server.
// It starts Unknown and is assigned at most once.
type ClientIdentity struct {
	inner Identity
}

// ClientIdentityUnknown is the initial, unassigned client identity.
var ClientIdentityUnknown = ClientIdentity{inner: IdentityUnknown}

// ClientIdentityInitiator is the assigned identity of an initiator.
var ClientIdentityInitiator = ClientIdentity{inner: IdentityInitiator}

// ClientIdentityResponder constructs an assigned responder client identity.
func ClientIdentityResponder(addr uint8) ClientIdentity {
	return ClientIdentity{inner: IdentityResponder(addr)}
}

// IsUnknown reports whether no identity has been assigned yet.
func (c ClientIdentity) IsUnknown() bool { return c.inner.IsUnknown() }

// IsInitiator reports whether this is the initiator identity.
func (c ClientIdentity) IsInitiator() bool { return c.inner.IsInitiator() }

// IsResponder reports whether this is a responder identity.
func (c ClientIdentity) IsResponder() (uint8, bool) { return c.inner.IsResponder() }

// Address converts the client identity to its wire Address (0x00 while
// Unknown).
func (c ClientIdentity) Address() Address { return c.inner.Address() }

// Equal reports whether two client identities denote the same peer.
func (c ClientIdentity) Equal(other ClientIdentity) bool { return c.inner.Equal(other.inner) }

func (c ClientIdentity) String() string {
	if c.inner.IsUnknown() {
		return "Unknown"
	}
	return c.inner.String()
}

// MatchesRole reports whether addr is a legal identity assignment for role:
// initiators may only be assigned 0x01, responders only 0x02..0xff.
func MatchesRole(role Role, addr Address) bool {
	switch role {
	case RoleInitiator:
		return addr.IsInitiator()
	case RoleResponder:
		return addr.IsResponder()
	default:
		return false
	}
}
