// Package signaling implements the side-effect-free signaling core (C9
// nonce validation, C10 state machine). It never performs I/O: HandleMessage
// consumes one inbound wire frame and returns zero or more outbound wire
// frames, updating internal state as it goes.
package signaling

import (
	"bytes"
	"errors"
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

// Subprotocol is the only subprotocol this core advertises in client-auth.
const Subprotocol = "v1.saltyrtc.org"

// Signaling is the common behavior of InitiatorSignaling and
// ResponderSignaling.
type Signaling interface {
	Role() identity.Role
	State() State
	Identity() identity.ClientIdentity
	AuthToken() *primitives.AuthToken
	Server() *peer.ServerContext
	HandleMessage(frame []byte) ([][]byte, error)
}

// roleDelegate is the small set of operations that differ between the
// initiator and the responder; everything else lives in core.
type roleDelegate interface {
	// peerContext looks up the PeerContext for a non-server source address
	// already known (by validateNonce's earlier checks) to be reachable in
	// the caller's role: a responder's InitiatorContext, or one of an
	// initiator's ResponderContexts.
	peerContext(addr identity.Address) (peer.Context, error)
	handleServerAuth(msg message.ServerAuth) ([]boxes.ByteBox, error)
	handleNewResponder(msg message.NewResponder) ([]boxes.ByteBox, error)
	handlePeerMessage(obox boxes.OpenBox) ([]boxes.ByteBox, error)
}

// core holds the state and logic shared by both roles.
type core struct {
	role           identity.Role
	state          State
	permanentKey   *primitives.KeyStore
	authToken      *primitives.AuthToken
	clientIdentity identity.ClientIdentity
	server         *peer.ServerContext
	delegate       roleDelegate
	logger         *slog.Logger
}

func newCore(role identity.Role, permanentKey *primitives.KeyStore, authToken *primitives.AuthToken, logger *slog.Logger) (*core, error) {
	server, err := peer.NewServerContext()
	if err != nil {
		return nil, fmt.Errorf("create server context: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &core{
		role:           role,
		state:          StateServerHandshake,
		permanentKey:   permanentKey,
		authToken:      authToken,
		clientIdentity: identity.ClientIdentityUnknown,
		server:         server,
		logger:         logger,
	}, nil
}

// Role returns the local role, initiator or responder.
func (c *core) Role() identity.Role { return c.role }

// State returns the top-level signaling state.
func (c *core) State() State { return c.state }

// Identity returns the client identity assigned so far (possibly Unknown).
func (c *core) Identity() identity.ClientIdentity { return c.clientIdentity }

// AuthToken returns the auth token, if one is held.
func (c *core) AuthToken() *primitives.AuthToken { return c.authToken }

// Server returns the server peer context.
func (c *core) Server() *peer.ServerContext { return c.server }

// setState applies a signaling-state transition, following the same
// monotonicity rule as the top-level state enum: ServerHandshake ->
// PeerHandshake -> Task, never backwards.
func (c *core) setState(next State) error {
	switch c.state {
	case StateServerHandshake:
		c.state = next
		return nil
	case StatePeerHandshake:
		if next == StateServerHandshake {
			return saltyerrors.NewInvalidStateTransition("signaling state: %s -> %s", c.state, next)
		}
		c.state = next
		return nil
	case StateTask:
		return saltyerrors.NewInvalidStateTransition("signaling state: %s -> %s", c.state, next)
	default:
		return saltyerrors.NewCrash("unknown signaling state %v", c.state)
	}
}

// HandleMessage validates, decodes, and dispatches one inbound wire frame,
// returning the wire frames (if any) that should be sent in response.
func (c *core) HandleMessage(frame []byte) ([][]byte, error) {
	bbox, err := boxes.FromFrame(frame)
	if err != nil {
		return nil, saltyerrors.NewDecode("%s", err)
	}

	switch result := c.validateNonce(bbox.Nonce); result.outcome {
	case validationDrop:
		c.logger.Warn("dropping message with invalid nonce", "reason", result.reason)
		return nil, nil
	case validationFail:
		return nil, saltyerrors.NewInvalidNonce("%s", result.reason)
	}

	obox, err := c.decodeMsg(bbox)
	if err != nil {
		return nil, err
	}

	var outboxes []boxes.ByteBox
	switch {
	case c.state == StateServerHandshake:
		outboxes, err = c.handleServerMessage(obox)
	case c.state == StatePeerHandshake && obox.Nonce.Src.IsServer():
		outboxes, err = c.handleServerMessage(obox)
	case c.state == StatePeerHandshake:
		outboxes, err = c.delegate.handlePeerMessage(obox)
	default:
		return nil, saltyerrors.NewProtocol("task message handling is not implemented by this core")
	}
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, len(outboxes))
	for i, bb := range outboxes {
		frames[i] = bb.ToFrame()
	}
	return frames, nil
}

// decodeMsg parses the body of bbox, unencrypted while the server handshake
// sub-state is New and afterwards public-key encrypted with the server's
// permanent key, whatever the frame's source. A frame from a peer therefore
// fails here with Decrypt and does not reach handlePeerMessage.
func (c *core) decodeMsg(bbox boxes.ByteBox) (boxes.OpenBox, error) {
	if c.server.HandshakeState == peer.ServerNew {
		obox, err := bbox.Decode()
		if err != nil {
			return boxes.OpenBox{}, classifyMessageError(err)
		}
		return obox, nil
	}
	if c.server.PermanentKey == nil {
		return boxes.OpenBox{}, saltyerrors.NewCrash("missing server permanent key")
	}
	obox, err := bbox.Decrypt(c.permanentKey, *c.server.PermanentKey)
	if err != nil {
		return boxes.OpenBox{}, classifyMessageError(err)
	}
	return obox, nil
}

// classifyMessageError translates an error from boxes.Decode/Decrypt into
// the saltyerrors taxonomy: a box-open authentication failure becomes
// Decrypt, a malformed/unknown-type body becomes Decode, and a
// structurally-valid body missing a required field becomes InvalidMessage.
func classifyMessageError(err error) error {
	var authErr *boxes.AuthError
	if errors.As(err, &authErr) {
		return saltyerrors.NewDecrypt("%s", authErr)
	}
	var invalidMsgErr *message.InvalidMessageError
	if errors.As(err, &invalidMsgErr) {
		return saltyerrors.NewInvalidMessage("%s", invalidMsgErr)
	}
	var decodeErr *message.DecodeError
	if errors.As(err, &decodeErr) {
		return saltyerrors.NewDecode("%s", decodeErr)
	}
	return saltyerrors.NewCrash("unexpected message decode error: %s", err)
}

// handleServerMessage dispatches a server-to-client message on the current
// server-handshake sub-state. Any transition this table doesn't name is an
// InvalidStateTransition.
func (c *core) handleServerMessage(obox boxes.OpenBox) ([]boxes.ByteBox, error) {
	oldState := c.server.HandshakeState
	switch m := obox.Message.(type) {
	case message.ServerHello:
		if oldState == peer.ServerNew {
			return c.handleServerHello(m)
		}
	case message.ServerAuth:
		if oldState == peer.ServerClientInfoSent {
			return c.handleServerAuth(m, obox.Nonce)
		}
	case message.NewResponder:
		if oldState == peer.ServerDone {
			return c.delegate.handleNewResponder(m)
		}
	case message.DropResponder:
		if oldState == peer.ServerDone {
			c.logger.Debug("drop-responder received; path cleaning is not implemented by this core")
			return nil, nil
		}
	case message.SendError:
		if oldState == peer.ServerDone {
			c.logger.Debug("send-error received; no handling is implemented by this core")
			return nil, nil
		}
	}
	return nil, saltyerrors.NewInvalidStateTransition("got %s message from server in %s state", obox.Message.Type(), oldState)
}

// handleServerHello records the server's permanent key and replies with
// client-hello (responder only) and client-auth.
func (c *core) handleServerHello(msg message.ServerHello) ([]boxes.ByteBox, error) {
	c.logger.Debug("received server-hello")

	if c.server.PermanentKey != nil {
		return nil, saltyerrors.NewProtocol("got a server-hello message, but server permanent key is already set")
	}
	serverKey := primitives.PublicKey(msg.Key)
	c.server.PermanentKey = &serverKey

	var actions []boxes.ByteBox

	if c.role == identity.RoleResponder {
		clientHello := message.ClientHello{Key: [32]byte(c.permanentKey.PublicKey())}
		next, err := c.server.CSNPair.Ours.Increment()
		if err != nil {
			return nil, &saltyerrors.CsnOverflow{}
		}
		c.server.CSNPair.Ours = next
		n := nonce.New(c.server.CookiePair.Ours, c.clientIdentity.Address(), c.server.Identity().Address(), next)
		bbox, err := boxes.New(clientHello, n).Encode()
		if err != nil {
			return nil, fmt.Errorf("encode client-hello: %w", err)
		}
		c.logger.Debug("enqueuing client-hello")
		actions = append(actions, bbox)
	}

	if c.server.CookiePair.Theirs == nil {
		return nil, saltyerrors.NewCrash("server cookie not yet learned")
	}
	clientAuth := message.ClientAuth{
		YourCookie:   [16]byte(*c.server.CookiePair.Theirs),
		Subprotocols: []string{Subprotocol},
		PingInterval: 0,
	}
	next, err := c.server.CSNPair.Ours.Increment()
	if err != nil {
		return nil, &saltyerrors.CsnOverflow{}
	}
	c.server.CSNPair.Ours = next
	n := nonce.New(c.server.CookiePair.Ours, c.clientIdentity.Address(), c.server.Identity().Address(), next)
	bbox, err := boxes.New(clientAuth, n).Encrypt(c.permanentKey, *c.server.PermanentKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt client-auth: %w", err)
	}
	c.logger.Debug("enqueuing client-auth")
	actions = append(actions, bbox)

	c.server.HandshakeState = peer.ServerClientInfoSent
	return actions, nil
}

// handleServerAuth runs the checks common to both roles, then delegates the
// role-specific checks (responders vs. initiator_connected).
func (c *core) handleServerAuth(msg message.ServerAuth, n nonce.Nonce) ([]boxes.ByteBox, error) {
	c.logger.Debug("received server-auth")

	if c.clientIdentity.IsUnknown() {
		return nil, saltyerrors.NewCrash("no identity assigned when receiving server-auth message")
	}
	if msg.YourCookie != c.server.CookiePair.Ours {
		return nil, saltyerrors.NewInvalidMessage("cookie sent in server-auth message does not match our cookie")
	}

	if msg.SignedKeys != nil {
		c.verifySignedKeys(msg.SignedKeys, n)
	}

	actions, err := c.delegate.handleServerAuth(msg)
	if err != nil {
		return nil, err
	}

	c.logger.Info("server handshake completed")
	c.server.HandshakeState = peer.ServerDone
	if err := c.setState(StatePeerHandshake); err != nil {
		return nil, err
	}
	return actions, nil
}

// verifySignedKeys opens the optional signed_keys box and checks that it
// echoes our permanent public key. A mismatch or decrypt failure is logged
// and otherwise ignored: the real protocol treats signed_keys verification
// as best-effort when the server's permanent key isn't pinned out-of-band.
func (c *core) verifySignedKeys(signedKeys []byte, n nonce.Nonce) {
	if c.server.PermanentKey == nil {
		c.logger.Warn("received signed_keys but the server permanent key is unknown")
		return
	}
	plaintext, err := c.permanentKey.Decrypt(signedKeys, n.Bytes(), *c.server.PermanentKey)
	if err != nil {
		c.logger.Warn("failed to open signed_keys box", "error", err)
		return
	}
	if len(plaintext) != 64 {
		c.logger.Warn("signed_keys has unexpected length", "length", len(plaintext))
		return
	}
	ourKey := c.permanentKey.PublicKey()
	if !bytes.Equal(plaintext[32:], ourKey[:]) {
		c.logger.Warn("signed_keys does not echo our permanent key")
		return
	}
	var sessionKey primitives.PublicKey
	copy(sessionKey[:], plaintext[:32])
	c.server.SessionKey = &sessionKey
}
