package signaling

import (
	"fmt"
	"log/slog"

	"github.com/cvsouth/saltyrtc-go/boxes"
	"github.com/cvsouth/saltyrtc-go/identity"
	"github.com/cvsouth/saltyrtc-go/message"
	"github.com/cvsouth/saltyrtc-go/peer"
	"github.com/cvsouth/saltyrtc-go/primitives"
	"github.com/cvsouth/saltyrtc-go/saltyerrors"
)

// InitiatorSignaling is the signaling core for the initiator role: it
// tracks the set of responders the server has announced.
type InitiatorSignaling struct {
	*core
	Responders map[identity.Address]*peer.ResponderContext
}

// NewInitiator creates signaling state for an initiator with a fresh
// one-shot auth token, ready to begin the server handshake.
func NewInitiator(permanentKey *primitives.KeyStore, logger *slog.Logger) (*InitiatorSignaling, error) {
	authToken, err := primitives.NewAuthToken()
	if err != nil {
		return nil, fmt.Errorf("create auth token: %w", err)
	}
	base, err := newCore(identity.RoleInitiator, permanentKey, authToken, logger)
	if err != nil {
		return nil, err
	}
	s := &InitiatorSignaling{core: base, Responders: make(map[identity.Address]*peer.ResponderContext)}
	base.delegate = s
	return s, nil
}

var _ Signaling = (*InitiatorSignaling)(nil)

func (s *InitiatorSignaling) peerContext(addr identity.Address) (peer.Context, error) {
	r, ok := s.Responders[addr]
	if !ok {
		return nil, fmt.Errorf("could not find responder with address %s", addr)
	}
	return r, nil
}

// handleServerAuth validates the responders field of a server-auth message
// and registers a fresh ResponderContext for each announced address.
func (s *InitiatorSignaling) handleServerAuth(msg message.ServerAuth) ([]boxes.ByteBox, error) {
	if msg.HasInitiatorConnected {
		return nil, saltyerrors.NewInvalidMessage("we're the initiator, but the `initiator_connected` field in the server-auth message is set")
	}
	if !msg.HasResponders {
		return nil, saltyerrors.NewInvalidMessage("`responders` field in server-auth message not set")
	}

	seen := make(map[identity.Address]bool, len(msg.Responders))
	for _, addr := range msg.Responders {
		if addr.IsServer() || addr == identity.AddressInitiator {
			return nil, saltyerrors.NewInvalidMessage("`responders` field in server-auth message may not contain addresses <0x02")
		}
		if seen[addr] {
			return nil, saltyerrors.NewInvalidMessage("`responders` field in server-auth message may not contain duplicates")
		}
		seen[addr] = true
	}

	// An empty array is valid; Nil is rejected above via HasResponders.
	for addr := range seen {
		ctx, err := peer.NewResponderContext(addr)
		if err != nil {
			return nil, err
		}
		s.Responders[addr] = ctx
	}

	// Path cleaning (keeping only one responder alive after task handoff)
	// is out of scope for this core; see SPEC_FULL.md.
	return nil, nil
}

// handleNewResponder registers (or re-registers) a responder announced
// individually after the server handshake completed.
func (s *InitiatorSignaling) handleNewResponder(msg message.NewResponder) ([]boxes.ByteBox, error) {
	s.logger.Debug("received new-responder")

	if !msg.ID.IsResponder() {
		return nil, saltyerrors.NewInvalidMessage("`id` field in new-responder message is not a valid responder address")
	}

	if _, exists := s.Responders[msg.ID]; exists {
		s.logger.Warn("overwriting responder context", "address", msg.ID)
	} else {
		s.logger.Info("registering new responder", "address", msg.ID)
	}
	ctx, err := peer.NewResponderContext(msg.ID)
	if err != nil {
		return nil, err
	}
	s.Responders[msg.ID] = ctx

	return nil, nil
}

// handlePeerMessage has no valid transitions defined by this core yet: the
// initiator-side peer handshake (token/key/auth from a responder) is left
// to a task layer, per SPEC_FULL.md's open question on scope.
func (s *InitiatorSignaling) handlePeerMessage(obox boxes.OpenBox) ([]boxes.ByteBox, error) {
	responder, found := s.Responders[obox.Nonce.Src]
	if !found {
		return nil, saltyerrors.NewCrash("did not find responder with address %s", obox.Nonce.Src)
	}
	return nil, saltyerrors.NewInvalidStateTransition(
		"got %s message from responder %s in %s state", obox.Message.Type(), obox.Nonce.Src, responder.HandshakeState)
}
