package signaling

import (
	"fmt"

	"github.com/cvsouth/saltyrtc-go/identity"
	"github.com/cvsouth/saltyrtc-go/nonce"
	"github.com/cvsouth/saltyrtc-go/peer"
)

type validationOutcome int

const (
	validationOk validationOutcome = iota
	validationDrop
	validationFail
)

type validationResult struct {
	outcome validationOutcome
	reason  string
}

func okResult() validationResult                { return validationResult{outcome: validationOk} }
func dropResult(reason string) validationResult { return validationResult{outcome: validationDrop, reason: reason} }
func failResult(reason string) validationResult { return validationResult{outcome: validationFail, reason: reason} }

// validateNonce runs the ordered nonce checks (C9): destination/identity
// assignment, destination match, source permission, peer lookup, CSN
// strict monotonicity, and cookie fixedness.
func (c *core) validateNonce(n nonce.Nonce) validationResult {
	// A client MUST check that the destination address targets its assigned
	// identity (or 0x00 during authentication). The first message received
	// with a destination address other than 0x00 is accepted as the
	// client's assigned identity, if it fits the client's role.
	if c.clientIdentity.IsUnknown() && !n.Dst.IsUnknown() && c.server.HandshakeState != peer.ServerNew {
		if !identity.MatchesRole(c.role, n.Dst) {
			return failResult(fmt.Sprintf("cannot assign address %s to a client with role %s", n.Dst, c.role))
		}
		if c.role == identity.RoleInitiator {
			c.clientIdentity = identity.ClientIdentityInitiator
		} else {
			c.clientIdentity = identity.ClientIdentityResponder(uint8(n.Dst))
		}
		c.logger.Debug("assigned identity", "identity", c.clientIdentity.String())
	}
	if n.Dst != c.clientIdentity.Address() {
		return failResult(fmt.Sprintf("Bad destination: %s (our identity is %s)", n.Dst, c.clientIdentity))
	}

	// An initiator SHALL ONLY process messages from the server. As soon as
	// it has been assigned an identity, it MAY ALSO accept messages from
	// responders. A responder SHALL ONLY process messages from the server,
	// plus the initiator once assigned. Anything else is dropped.
	switch {
	case n.Src.IsServer():
		// always permitted
	case n.Src == identity.AddressInitiator:
		if _, isResponder := c.clientIdentity.IsResponder(); !isResponder {
			return dropResult(fmt.Sprintf("Bad source: %s (our identity is %s)", n.Src, c.clientIdentity))
		}
	case n.Src.IsResponder():
		if !c.clientIdentity.IsInitiator() {
			return dropResult(fmt.Sprintf("Bad source: %s (our identity is %s)", n.Src, c.clientIdentity))
		}
	}

	// Find the peer this message claims to be from.
	var p peer.Context
	if n.Src.IsServer() {
		p = c.server
	} else {
		found, err := c.delegate.peerContext(n.Src)
		if err != nil {
			return failResult(err.Error())
		}
		p = found
	}
	peerIdentity := p.Identity()

	// CSN check.
	csns := p.CSNs()
	if csns.Theirs != nil {
		previous := *csns.Theirs
		switch n.CSN.Compare(previous) {
		case -1:
			return failResult(fmt.Sprintf("%s CSN is lower than last time", peerIdentity))
		case 0:
			return failResult(fmt.Sprintf("%s CSN hasn't been incremented", peerIdentity))
		}
		updated := n.CSN
		csns.Theirs = &updated
	} else {
		if n.CSN.Overflow() != 0 {
			return failResult(fmt.Sprintf("First message from %s must have set the overflow number to 0", peerIdentity))
		}
		first := n.CSN
		csns.Theirs = &first
	}

	// Cookie check.
	cookies := p.Cookies()
	if cookies.Theirs == nil {
		if n.Cookie.Equal(cookies.Ours) {
			return failResult(fmt.Sprintf("Cookie from %s is identical to our own cookie", peerIdentity))
		}
		theirs := n.Cookie
		cookies.Theirs = &theirs
	} else if !n.Cookie.Equal(*cookies.Theirs) {
		return failResult(fmt.Sprintf("Cookie from %s has changed", peerIdentity))
	}

	return okResult()
}
