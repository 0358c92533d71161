package signaling

import (
	"fmt"
	"log/slog"

	"github.com/cvsouth/saltyrtc-go/boxes"
	"github.com/cvsouth/saltyrtc-go/identity"
	"github.com/cvsouth/saltyrtc-go/message"
	"github.com/cvsouth/saltyrtc-go/nonce"
	"github.com/cvsouth/saltyrtc-go/peer"
	"github.com/cvsouth/saltyrtc-go/primitives"
	"github.com/cvsouth/saltyrtc-go/saltyerrors"
)

// ResponderSignaling is the signaling core for the responder role: it
// tracks the single initiator it's trying to reach, plus the session
// keypair it generates once the initiator is known to be connected.
type ResponderSignaling struct {
	*core
	SessionKey *primitives.KeyStore
	Initiator  *peer.InitiatorContext
}

// NewResponder creates signaling state for a responder. authToken may be
// nil if the responder already shares a session with the initiator through
// some other out-of-band mechanism.
func NewResponder(permanentKey *primitives.KeyStore, initiatorPublicKey primitives.PublicKey, authToken *primitives.AuthToken, logger *slog.Logger) (*ResponderSignaling, error) {
	base, err := newCore(identity.RoleResponder, permanentKey, authToken, logger)
	if err != nil {
		return nil, err
	}
	initiatorCtx, err := peer.NewInitiatorContext(initiatorPublicKey)
	if err != nil {
		return nil, fmt.Errorf("create initiator context: %w", err)
	}
	s := &ResponderSignaling{core: base, Initiator: initiatorCtx}
	base.delegate = s
	return s, nil
}

var _ Signaling = (*ResponderSignaling)(nil)

func (s *ResponderSignaling) peerContext(addr identity.Address) (peer.Context, error) {
	if addr == identity.AddressInitiator {
		return s.Initiator, nil
	}
	return nil, fmt.Errorf("unexpected peer lookup for address %s", addr)
}

// handleServerAuth checks the initiator_connected field and, if the
// initiator is already connected, sends a token (if we hold an auth token)
// and a fresh session key.
func (s *ResponderSignaling) handleServerAuth(msg message.ServerAuth) ([]boxes.ByteBox, error) {
	if msg.HasResponders {
		return nil, saltyerrors.NewInvalidMessage("we're a responder, but the `responders` field in the server-auth message is set")
	}
	if !msg.HasInitiatorConnected {
		return nil, saltyerrors.NewInvalidMessage("we're a responder, but the `initiator_connected` field in the server-auth message is not set")
	}

	var actions []boxes.ByteBox
	if !msg.InitiatorConnected {
		s.logger.Debug("no initiator connected so far")
		return actions, nil
	}

	if s.authToken != nil {
		tokenBox, err := s.sendToken(s.authToken)
		if err != nil {
			return nil, err
		}
		actions = append(actions, tokenBox)
	} else {
		s.logger.Debug("no auth token set")
	}

	if err := s.generateSessionKey(); err != nil {
		return nil, err
	}
	keyBox, err := s.sendKey()
	if err != nil {
		return nil, err
	}
	actions = append(actions, keyBox)

	s.Initiator.HandshakeState = peer.InitiatorKeySent
	return actions, nil
}

// handleNewResponder can never legally arrive at a responder.
func (s *ResponderSignaling) handleNewResponder(message.NewResponder) ([]boxes.ByteBox, error) {
	return nil, saltyerrors.NewProtocol("received 'new-responder' message as responder")
}

// handlePeerMessage has no valid transitions defined by this core yet: the
// responder-side peer handshake beyond token/key (auth, task handoff) is
// left to a task layer, per SPEC_FULL.md's open question on scope.
func (s *ResponderSignaling) handlePeerMessage(obox boxes.OpenBox) ([]boxes.ByteBox, error) {
	return nil, saltyerrors.NewInvalidStateTransition(
		"got %s message from initiator in %s state", obox.Message.Type(), s.Initiator.HandshakeState)
}

func (s *ResponderSignaling) generateSessionKey() error {
	if s.SessionKey != nil {
		return saltyerrors.NewCrash("cannot generate new session key: it has already been generated")
	}
	for {
		ks, err := primitives.NewKeyStore()
		if err != nil {
			return fmt.Errorf("generate session key: %w", err)
		}
		if !ks.Equal(s.permanentKey) {
			s.SessionKey = ks
			return nil
		}
		s.logger.Warn("session keypair equals permanent keypair, regenerating")
	}
}

// sendToken builds the token message, secret-key encrypted under token.
func (s *ResponderSignaling) sendToken(token *primitives.AuthToken) (boxes.ByteBox, error) {
	msg := message.Token{Key: [32]byte(s.permanentKey.PublicKey())}
	n, err := s.nextInitiatorNonce()
	if err != nil {
		return boxes.ByteBox{}, err
	}
	bbox, err := boxes.New(msg, n).EncryptToken(token)
	if err != nil {
		return boxes.ByteBox{}, fmt.Errorf("encrypt token: %w", err)
	}
	s.logger.Debug("enqueuing token")
	return bbox, nil
}

// sendKey builds the key message, public-key encrypted for the initiator.
func (s *ResponderSignaling) sendKey() (boxes.ByteBox, error) {
	if s.SessionKey == nil {
		return boxes.ByteBox{}, saltyerrors.NewCrash("missing session keypair")
	}
	msg := message.Key{Key: [32]byte(s.SessionKey.PublicKey())}
	n, err := s.nextInitiatorNonce()
	if err != nil {
		return boxes.ByteBox{}, err
	}
	bbox, err := boxes.New(msg, n).Encrypt(s.permanentKey, s.Initiator.PermanentKey)
	if err != nil {
		return boxes.ByteBox{}, fmt.Errorf("encrypt key: %w", err)
	}
	s.logger.Debug("enqueuing key")
	return bbox, nil
}

// nextInitiatorNonce increments our outbound CSN to the initiator and
// builds the nonce for the next message to it.
func (s *ResponderSignaling) nextInitiatorNonce() (nonce.Nonce, error) {
	next, err := s.Initiator.CSNPair.Ours.Increment()
	if err != nil {
		return nonce.Nonce{}, &saltyerrors.CsnOverflow{}
	}
	s.Initiator.CSNPair.Ours = next
	return nonce.New(s.Initiator.CookiePair.Ours, s.clientIdentity.Address(), s.Initiator.Identity().Address(), next), nil
}
