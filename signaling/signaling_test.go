package signaling

import (
	"errors"
	"testing"

	"github.com/cvsouth/saltyrtc-go/boxes"
	"github.com/cvsouth/saltyrtc-go/cookie"
	"github.com/cvsouth/saltyrtc-go/csn"
	"github.com/cvsouth/saltyrtc-go/identity"
	"github.com/cvsouth/saltyrtc-go/message"
	"github.com/cvsouth/saltyrtc-go/nonce"
	"github.com/cvsouth/saltyrtc-go/peer"
	"github.com/cvsouth/saltyrtc-go/primitives"
	"github.com/cvsouth/saltyrtc-go/saltyerrors"
)

func coreOf(t *testing.T, sig Signaling) *core {
	t.Helper()
	switch s := sig.(type) {
	case *InitiatorSignaling:
		return s.core
	case *ResponderSignaling:
		return s.core
	default:
		t.Fatalf("unknown signaling type %T", sig)
		return nil
	}
}

func mustKeyStore(t *testing.T) *primitives.KeyStore {
	t.Helper()
	ks, err := primitives.NewKeyStore()
	if err != nil {
		t.Fatalf("NewKeyStore: %v", err)
	}
	return ks
}

func mustCookie(t *testing.T) cookie.Cookie {
	t.Helper()
	c, err := cookie.New()
	if err != nil {
		t.Fatalf("cookie.New: %v", err)
	}
	return c
}

func encodedFrame(t *testing.T, msg message.Message, n nonce.Nonce) []byte {
	t.Helper()
	bbox, err := boxes.New(msg, n).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return bbox.ToFrame()
}

func TestValidateNonceFirstMessageWrongDestination(t *testing.T) {
	sig, err := NewInitiator(mustKeyStore(t), nil)
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}

	msg := message.ServerHello{Key: [32]byte{1}}
	n := nonce.New(mustCookie(t), identity.AddressServer, identity.AddressInitiator, csn.New(0, 1))
	frame := encodedFrame(t, msg, n)

	_, err = sig.HandleMessage(frame)
	var nonceErr *saltyerrors.InvalidNonce
	if !errors.As(err, &nonceErr) {
		t.Fatalf("expected InvalidNonce, got %v (%T)", err, err)
	}
}

func TestValidateNonceWrongSourceInitiator(t *testing.T) {
	sig, err := NewInitiator(mustKeyStore(t), nil)
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	c := coreOf(t, sig)

	makeMsg := func(src identity.Address) []byte {
		msg := message.ServerHello{Key: [32]byte{2}}
		n := nonce.New(mustCookie(t), src, identity.AddressServer, csn.New(0, 1))
		return encodedFrame(t, msg, n)
	}

	// From the initiator (0x01): always dropped.
	actions, err := sig.HandleMessage(makeMsg(identity.AddressInitiator))
	if err != nil {
		t.Fatalf("expected drop, not error: %v", err)
	}
	if len(actions) != 0 || c.server.HandshakeState != peer.ServerNew {
		t.Fatal("expected message to be silently dropped")
	}

	// From a responder (0xff): dropped, identity not yet assigned.
	actions, err = sig.HandleMessage(makeMsg(identity.Address(0xff)))
	if err != nil {
		t.Fatalf("expected drop, not error: %v", err)
	}
	if len(actions) != 0 || c.server.HandshakeState != peer.ServerNew {
		t.Fatal("expected message to be silently dropped")
	}

	// From the server: always valid; produces client-auth only (initiator
	// doesn't send client-hello).
	actions, err = sig.HandleMessage(makeMsg(identity.AddressServer))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if c.server.HandshakeState != peer.ServerClientInfoSent {
		t.Fatalf("expected ClientInfoSent, got %v", c.server.HandshakeState)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 action (client-auth), got %d", len(actions))
	}
}

func TestValidateNonceWrongSourceResponder(t *testing.T) {
	sig, err := NewResponder(mustKeyStore(t), primitives.PublicKey{}, nil, nil)
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}
	c := coreOf(t, sig)

	makeMsg := func(src identity.Address) []byte {
		msg := message.ServerHello{Key: [32]byte{3}}
		n := nonce.New(mustCookie(t), src, identity.AddressServer, csn.New(0, 1))
		return encodedFrame(t, msg, n)
	}

	actions, err := sig.HandleMessage(makeMsg(identity.Address(0x03)))
	if err != nil {
		t.Fatalf("expected drop, not error: %v", err)
	}
	if len(actions) != 0 || c.server.HandshakeState != peer.ServerNew {
		t.Fatal("expected message to be silently dropped")
	}

	actions, err = sig.HandleMessage(makeMsg(identity.AddressInitiator))
	if err != nil {
		t.Fatalf("expected drop, not error: %v", err)
	}
	if len(actions) != 0 || c.server.HandshakeState != peer.ServerNew {
		t.Fatal("expected message to be silently dropped")
	}

	actions, err = sig.HandleMessage(makeMsg(identity.AddressServer))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if c.server.HandshakeState != peer.ServerClientInfoSent {
		t.Fatalf("expected ClientInfoSent, got %v", c.server.HandshakeState)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions (client-hello, client-auth), got %d", len(actions))
	}
}

func TestValidateNonceFirstMessageBadOverflow(t *testing.T) {
	sig, err := NewInitiator(mustKeyStore(t), nil)
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}

	msg := message.ServerHello{Key: [32]byte{4}}
	n := nonce.New(mustCookie(t), identity.AddressServer, identity.AddressServer, csn.New(1, 1234))
	frame := encodedFrame(t, msg, n)

	_, err = sig.HandleMessage(frame)
	var nonceErr *saltyerrors.InvalidNonce
	if !errors.As(err, &nonceErr) {
		t.Fatalf("expected InvalidNonce, got %v (%T)", err, err)
	}
}

func TestValidateNonceCookieMatchesOwn(t *testing.T) {
	sig, err := NewInitiator(mustKeyStore(t), nil)
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	c := coreOf(t, sig)

	msg := message.ServerHello{Key: [32]byte{5}}
	n := nonce.New(c.server.CookiePair.Ours, identity.AddressServer, identity.AddressServer, csn.New(0, 1))
	frame := encodedFrame(t, msg, n)

	_, err = sig.HandleMessage(frame)
	var nonceErr *saltyerrors.InvalidNonce
	if !errors.As(err, &nonceErr) {
		t.Fatalf("expected InvalidNonce, got %v (%T)", err, err)
	}
}

// makeTestSignaling builds a signaling instance already past the
// server-hello exchange, with an assigned identity and a known server
// cookie/permanent key, for exercising server-auth handling directly.
func makeTestSignaling(t *testing.T, role identity.Role, assigned identity.ClientIdentity, authToken *primitives.AuthToken) (Signaling, *primitives.KeyStore, cookie.Cookie, cookie.Cookie) {
	t.Helper()
	ourKS := mustKeyStore(t)
	serverKS := mustKeyStore(t)
	ourCookie := mustCookie(t)
	serverCookie := mustCookie(t)

	var sig Signaling
	switch role {
	case identity.RoleInitiator:
		s, err := NewInitiator(ourKS, nil)
		if err != nil {
			t.Fatalf("NewInitiator: %v", err)
		}
		sig = s
	case identity.RoleResponder:
		s, err := NewResponder(ourKS, primitives.PublicKey{}, authToken, nil)
		if err != nil {
			t.Fatalf("NewResponder: %v", err)
		}
		sig = s
	}

	c := coreOf(t, sig)
	c.clientIdentity = assigned
	c.server.HandshakeState = peer.ServerClientInfoSent
	c.server.CookiePair = cookie.Pair{Ours: ourCookie, Theirs: &serverCookie}
	serverPub := serverKS.PublicKey()
	c.server.PermanentKey = &serverPub

	return sig, serverKS, ourCookie, serverCookie
}

func makeTestFrame(t *testing.T, msg message.Message, serverKS *primitives.KeyStore, ourPub primitives.PublicKey, serverCookie cookie.Cookie, dest identity.Address) []byte {
	t.Helper()
	n := nonce.New(serverCookie, identity.AddressServer, dest, csn.New(0, 1))
	bbox, err := boxes.New(msg, n).Encrypt(serverKS, ourPub)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return bbox.ToFrame()
}

func TestServerAuthNoIdentityAssigned(t *testing.T) {
	sig, serverKS, ourCookie, serverCookie := makeTestSignaling(t, identity.RoleResponder, identity.ClientIdentityUnknown, nil)

	// Dst stays the unknown/server address (0x00) so validateNonce's
	// implicit-assignment branch never fires; clientIdentity must still be
	// Unknown by the time handleServerAuth runs.
	msg := message.ServerAuth{YourCookie: [16]byte(ourCookie), HasInitiatorConnected: true, InitiatorConnected: false}
	frame := makeTestFrame(t, msg, serverKS, sig.(*ResponderSignaling).permanentKey.PublicKey(), serverCookie, identity.AddressServer)

	_, err := sig.HandleMessage(frame)
	var crashErr *saltyerrors.Crash
	if !errors.As(err, &crashErr) {
		t.Fatalf("expected Crash, got %v (%T)", err, err)
	}
}

func TestServerAuthYourCookieMismatch(t *testing.T) {
	sig, serverKS, _, serverCookie := makeTestSignaling(t, identity.RoleInitiator, identity.ClientIdentityInitiator, nil)

	wrongCookie := mustCookie(t)
	msg := message.ServerAuth{YourCookie: [16]byte(wrongCookie), HasResponders: true, Responders: []identity.Address{}}
	frame := makeTestFrame(t, msg, serverKS, sig.(*InitiatorSignaling).permanentKey.PublicKey(), serverCookie, identity.AddressInitiator)

	_, err := sig.HandleMessage(frame)
	var msgErr *saltyerrors.InvalidMessage
	if !errors.As(err, &msgErr) {
		t.Fatalf("expected InvalidMessage, got %v (%T)", err, err)
	}
}

func TestServerAuthInitiatorWrongFields(t *testing.T) {
	sig, serverKS, ourCookie, serverCookie := makeTestSignaling(t, identity.RoleInitiator, identity.ClientIdentityInitiator, nil)

	msg := message.ServerAuth{YourCookie: [16]byte(ourCookie), HasInitiatorConnected: true, InitiatorConnected: true}
	frame := makeTestFrame(t, msg, serverKS, sig.(*InitiatorSignaling).permanentKey.PublicKey(), serverCookie, identity.AddressInitiator)

	_, err := sig.HandleMessage(frame)
	var msgErr *saltyerrors.InvalidMessage
	if !errors.As(err, &msgErr) {
		t.Fatalf("expected InvalidMessage, got %v (%T)", err, err)
	}
}

func TestServerAuthInitiatorMissingResponders(t *testing.T) {
	sig, serverKS, ourCookie, serverCookie := makeTestSignaling(t, identity.RoleInitiator, identity.ClientIdentityInitiator, nil)

	msg := message.ServerAuth{YourCookie: [16]byte(ourCookie)}
	frame := makeTestFrame(t, msg, serverKS, sig.(*InitiatorSignaling).permanentKey.PublicKey(), serverCookie, identity.AddressInitiator)

	_, err := sig.HandleMessage(frame)
	var msgErr *saltyerrors.InvalidMessage
	if !errors.As(err, &msgErr) {
		t.Fatalf("expected InvalidMessage, got %v (%T)", err, err)
	}
}

func TestServerAuthInitiatorDuplicateResponders(t *testing.T) {
	sig, serverKS, ourCookie, serverCookie := makeTestSignaling(t, identity.RoleInitiator, identity.ClientIdentityInitiator, nil)

	msg := message.ServerAuth{
		YourCookie: [16]byte(ourCookie), HasResponders: true,
		Responders: []identity.Address{2, 3, 3},
	}
	frame := makeTestFrame(t, msg, serverKS, sig.(*InitiatorSignaling).permanentKey.PublicKey(), serverCookie, identity.AddressInitiator)

	_, err := sig.HandleMessage(frame)
	var msgErr *saltyerrors.InvalidMessage
	if !errors.As(err, &msgErr) {
		t.Fatalf("expected InvalidMessage, got %v (%T)", err, err)
	}
}

func TestServerAuthInitiatorInvalidResponderRange(t *testing.T) {
	sig, serverKS, ourCookie, serverCookie := makeTestSignaling(t, identity.RoleInitiator, identity.ClientIdentityInitiator, nil)

	msg := message.ServerAuth{
		YourCookie: [16]byte(ourCookie), HasResponders: true,
		Responders: []identity.Address{1, 2, 3},
	}
	frame := makeTestFrame(t, msg, serverKS, sig.(*InitiatorSignaling).permanentKey.PublicKey(), serverCookie, identity.AddressInitiator)

	_, err := sig.HandleMessage(frame)
	var msgErr *saltyerrors.InvalidMessage
	if !errors.As(err, &msgErr) {
		t.Fatalf("expected InvalidMessage, got %v (%T)", err, err)
	}
}

func TestServerAuthInitiatorStoresResponders(t *testing.T) {
	sig, serverKS, ourCookie, serverCookie := makeTestSignaling(t, identity.RoleInitiator, identity.ClientIdentityInitiator, nil)
	initSig := sig.(*InitiatorSignaling)
	if len(initSig.Responders) != 0 {
		t.Fatal("expected no responders yet")
	}

	msg := message.ServerAuth{
		YourCookie: [16]byte(ourCookie), HasResponders: true,
		Responders: []identity.Address{2, 3},
	}
	frame := makeTestFrame(t, msg, serverKS, initSig.permanentKey.PublicKey(), serverCookie, identity.AddressInitiator)

	actions, err := sig.HandleMessage(frame)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no reply actions, got %d", len(actions))
	}
	if len(initSig.Responders) != 2 {
		t.Fatalf("expected 2 responders, got %d", len(initSig.Responders))
	}
	if initSig.State() != StatePeerHandshake {
		t.Fatalf("expected PeerHandshake, got %v", initSig.State())
	}
}

func TestServerAuthResponderMissingInitiatorConnected(t *testing.T) {
	sig, serverKS, ourCookie, serverCookie := makeTestSignaling(t, identity.RoleResponder, identity.ClientIdentityResponder(4), nil)

	msg := message.ServerAuth{YourCookie: [16]byte(ourCookie)}
	frame := makeTestFrame(t, msg, serverKS, sig.(*ResponderSignaling).permanentKey.PublicKey(), serverCookie, identity.Address(4))

	_, err := sig.HandleMessage(frame)
	var msgErr *saltyerrors.InvalidMessage
	if !errors.As(err, &msgErr) {
		t.Fatalf("expected InvalidMessage, got %v (%T)", err, err)
	}
}

func TestServerAuthRespondInitiatorWithToken(t *testing.T) {
	token, err := primitives.NewAuthToken()
	if err != nil {
		t.Fatalf("NewAuthToken: %v", err)
	}
	sig, serverKS, ourCookie, serverCookie := makeTestSignaling(t, identity.RoleResponder, identity.ClientIdentityResponder(7), token)
	respSig := sig.(*ResponderSignaling)

	if respSig.Initiator.HandshakeState != peer.InitiatorNew {
		t.Fatal("expected InitiatorNew before server-auth")
	}

	msg := message.ServerAuth{YourCookie: [16]byte(ourCookie), HasInitiatorConnected: true, InitiatorConnected: true}
	frame := makeTestFrame(t, msg, serverKS, respSig.permanentKey.PublicKey(), serverCookie, identity.Address(7))

	actions, err := sig.HandleMessage(frame)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions (token, key), got %d", len(actions))
	}
	if respSig.Initiator.HandshakeState != peer.InitiatorKeySent {
		t.Fatalf("expected InitiatorKeySent, got %v", respSig.Initiator.HandshakeState)
	}
	if respSig.SessionKey == nil {
		t.Fatal("expected a session key to have been generated")
	}
}

func TestServerAuthRespondInitiatorWithoutToken(t *testing.T) {
	sig, serverKS, ourCookie, serverCookie := makeTestSignaling(t, identity.RoleResponder, identity.ClientIdentityResponder(7), nil)
	respSig := sig.(*ResponderSignaling)

	msg := message.ServerAuth{YourCookie: [16]byte(ourCookie), HasInitiatorConnected: true, InitiatorConnected: true}
	frame := makeTestFrame(t, msg, serverKS, respSig.permanentKey.PublicKey(), serverCookie, identity.Address(7))

	actions, err := sig.HandleMessage(frame)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 action (key only), got %d", len(actions))
	}
}

func TestServerAuthSignalingStateTransition(t *testing.T) {
	sig, serverKS, ourCookie, serverCookie := makeTestSignaling(t, identity.RoleResponder, identity.ClientIdentityResponder(7), nil)
	respSig := sig.(*ResponderSignaling)

	if respSig.State() != StateServerHandshake {
		t.Fatal("expected ServerHandshake before server-auth")
	}

	msg := message.ServerAuth{YourCookie: [16]byte(ourCookie), HasInitiatorConnected: true, InitiatorConnected: false}
	frame := makeTestFrame(t, msg, serverKS, respSig.permanentKey.PublicKey(), serverCookie, identity.Address(7))

	if _, err := sig.HandleMessage(frame); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if respSig.State() != StatePeerHandshake {
		t.Fatalf("expected PeerHandshake, got %v", respSig.State())
	}
	if respSig.Server().HandshakeState != peer.ServerDone {
		t.Fatalf("expected ServerDone, got %v", respSig.Server().HandshakeState)
	}
}
