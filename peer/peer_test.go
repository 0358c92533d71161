package peer

import (
	"testing"

	"github.com/cvsouth/saltyrtc-go/identity"
	"github.com/cvsouth/saltyrtc-go/primitives"
)

func TestNewServerContext(t *testing.T) {
	s, err := NewServerContext()
	if err != nil {
		t.Fatalf("NewServerContext: %v", err)
	}
	if s.HandshakeState != ServerNew {
		t.Fatalf("expected ServerNew, got %v", s.HandshakeState)
	}
	if !s.Identity().Equal(identity.IdentityServer) {
		t.Fatalf("expected server identity")
	}
	if s.CSNs().Theirs != nil {
		t.Fatal("expected no CSN observed from peer yet")
	}
}

func TestNewInitiatorContext(t *testing.T) {
	ks, _ := primitives.NewKeyStore()
	i, err := NewInitiatorContext(ks.PublicKey())
	if err != nil {
		t.Fatalf("NewInitiatorContext: %v", err)
	}
	if i.PermanentKey != ks.PublicKey() {
		t.Fatal("permanent key not retained")
	}
	if !i.Identity().Equal(identity.IdentityInitiator) {
		t.Fatal("expected initiator identity")
	}
}

func TestNewResponderContextAddressing(t *testing.T) {
	r, err := NewResponderContext(identity.Address(0x03))
	if err != nil {
		t.Fatalf("NewResponderContext: %v", err)
	}
	addr, ok := r.Identity().IsResponder()
	if !ok || addr != 0x03 {
		t.Fatalf("expected responder 0x03, got %v (ok=%v)", addr, ok)
	}
}

func TestTwoServerContextsHaveDistinctCookies(t *testing.T) {
	a, _ := NewServerContext()
	b, _ := NewServerContext()
	if a.Cookies().Ours.Equal(b.Cookies().Ours) {
		t.Fatal("expected distinct random cookies")
	}
}
