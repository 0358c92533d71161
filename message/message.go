// Package message implements the tagged-union message codec (C6): a
// self-describing msgpack map with a "type" discriminator string plus
// variant-specific, length-prefixed binary fields.
package message

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cvsouth/saltyrtc-go/identity"
)

// Type discriminators, matching the `type` field on the wire.
const (
	TypeServerHello   = "server-hello"
	TypeClientHello   = "client-hello"
	TypeClientAuth    = "client-auth"
	TypeServerAuth    = "server-auth"
	TypeNewResponder  = "new-responder"
	TypeDropResponder = "drop-responder"
	TypeSendError     = "send-error"
	TypeToken         = "token"
	TypeKey           = "key"
)

// Message is any signaling payload. Each concrete type knows its own wire
// discriminator.
type Message interface {
	Type() string
}

// ServerHello carries the server's permanent public key.
type ServerHello struct {
	Key [32]byte
}

func (ServerHello) Type() string { return TypeServerHello }

// ClientHello carries the responder's permanent public key.
type ClientHello struct {
	Key [32]byte
}

func (ClientHello) Type() string { return TypeClientHello }

// ClientAuth is the client's reply to server-hello.
type ClientAuth struct {
	YourCookie   [16]byte
	Subprotocols []string
	PingInterval uint32
	YourKey      *[32]byte // hook point; never populated by core logic today
}

func (ClientAuth) Type() string { return TypeClientAuth }

// ServerAuth is the server's final handshake message. Exactly one of
// Responders (initiator) or InitiatorConnected (responder) is populated,
// tracked by the Has* flags since a present-but-empty responders array is
// valid and distinct from an absent field.
type ServerAuth struct {
	YourCookie [16]byte
	SignedKeys []byte // optional; nil if absent

	HasResponders bool
	Responders    []identity.Address // present (possibly empty) for initiators

	HasInitiatorConnected bool
	InitiatorConnected    bool // present for responders
}

func (ServerAuth) Type() string { return TypeServerAuth }

// NewResponder announces a newly connected responder to the initiator.
type NewResponder struct {
	ID identity.Address
}

func (NewResponder) Type() string { return TypeNewResponder }

// DropResponder instructs the initiator's path-cleaning hook (unused by
// the core beyond structural decode).
type DropResponder struct {
	ID        identity.Address
	HasReason bool
	Reason    uint32
}

func (DropResponder) Type() string { return TypeDropResponder }

// SendError reports a relaying failure for a message identified by ID
// (structural decode only; no core handling defined).
type SendError struct {
	ID []byte
}

func (SendError) Type() string { return TypeSendError }

// Token carries the responder's permanent public key, secret-key
// encrypted using the auth token.
type Token struct {
	Key [32]byte
}

func (Token) Type() string { return TypeToken }

// Key carries a session public key, public-key encrypted.
type Key struct {
	Key [32]byte
}

func (Key) Type() string { return TypeKey }

// DecodeError wraps a malformed-message failure (spec's Decode taxonomy
// entry): bad msgpack, a missing or non-string "type", or an unknown type.
// A known field with the wrong type is an InvalidMessageError instead.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return e.Reason }

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidMessageError wraps a structurally-decoded-but-semantically-invalid
// message (missing required field, bad field shape).
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string { return e.Reason }

func invalidMessagef(format string, args ...any) error {
	return &InvalidMessageError{Reason: fmt.Sprintf(format, args...)}
}

// Decode parses a msgpack-encoded message map into its concrete Message
// type, dispatching on the "type" field. Unknown fields are ignored.
func Decode(data []byte) (Message, error) {
	raw := make(map[string]any)
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, decodeErrorf("cannot decode message payload")
	}

	typ, ok := raw["type"].(string)
	if !ok {
		return nil, decodeErrorf("cannot decode message payload")
	}

	switch typ {
	case TypeServerHello:
		return decodeServerHello(raw)
	case TypeClientHello:
		return decodeClientHello(raw)
	case TypeClientAuth:
		return decodeClientAuth(raw)
	case TypeServerAuth:
		return decodeServerAuth(raw)
	case TypeNewResponder:
		return decodeNewResponder(raw)
	case TypeDropResponder:
		return decodeDropResponder(raw)
	case TypeSendError:
		return decodeSendError(raw)
	case TypeToken:
		return decodeToken(raw)
	case TypeKey:
		return decodeKey(raw)
	default:
		return nil, decodeErrorf("unknown message type")
	}
}

// Encode serializes a Message into its msgpack wire form.
func Encode(m Message) ([]byte, error) {
	var fields map[string]any
	switch v := m.(type) {
	case ServerHello:
		fields = map[string]any{"type": v.Type(), "key": v.Key[:]}
	case ClientHello:
		fields = map[string]any{"type": v.Type(), "key": v.Key[:]}
	case ClientAuth:
		fields = map[string]any{
			"type":          v.Type(),
			"your_cookie":   v.YourCookie[:],
			"subprotocols":  v.Subprotocols,
			"ping_interval": v.PingInterval,
		}
		if v.YourKey != nil {
			fields["your_key"] = v.YourKey[:]
		}
	case ServerAuth:
		fields = map[string]any{"type": v.Type(), "your_cookie": v.YourCookie[:]}
		if v.SignedKeys != nil {
			fields["signed_keys"] = v.SignedKeys
		}
		if v.HasResponders {
			addrs := make([]any, len(v.Responders))
			for i, a := range v.Responders {
				addrs[i] = uint8(a)
			}
			fields["responders"] = addrs
		}
		if v.HasInitiatorConnected {
			fields["initiator_connected"] = v.InitiatorConnected
		}
	case NewResponder:
		fields = map[string]any{"type": v.Type(), "id": uint8(v.ID)}
	case DropResponder:
		fields = map[string]any{"type": v.Type(), "id": uint8(v.ID)}
		if v.HasReason {
			fields["reason"] = v.Reason
		}
	case SendError:
		fields = map[string]any{"type": v.Type(), "id": v.ID}
	case Token:
		fields = map[string]any{"type": v.Type(), "key": v.Key[:]}
	case Key:
		fields = map[string]any{"type": v.Type(), "key": v.Key[:]}
	default:
		return nil, fmt.Errorf("message: unknown type %T", m)
	}
	data, err := msgpack.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

func lookupBinary32(raw map[string]any, key string) ([32]byte, error) {
	var out [32]byte
	v, ok := raw[key]
	if !ok {
		return out, invalidMessagef("missing required field `%s`", key)
	}
	b, ok := v.([]byte)
	if !ok || len(b) != 32 {
		return out, invalidMessagef("field `%s` must be 32-byte binary", key)
	}
	copy(out[:], b)
	return out, nil
}

func lookupBinary16(raw map[string]any, key string) ([16]byte, error) {
	var out [16]byte
	v, ok := raw[key]
	if !ok {
		return out, invalidMessagef("missing required field `%s`", key)
	}
	b, ok := v.([]byte)
	if !ok || len(b) != 16 {
		return out, invalidMessagef("field `%s` must be 16-byte binary", key)
	}
	copy(out[:], b)
	return out, nil
}

func lookupUint32(raw map[string]any, key string) (uint32, error) {
	v, ok := raw[key]
	if !ok {
		return 0, invalidMessagef("missing required field `%s`", key)
	}
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, invalidMessagef("field `%s` must be non-negative", key)
		}
		return uint32(n), nil
	case uint64:
		return uint32(n), nil
	default:
		return 0, invalidMessagef("field `%s` must be an integer", key)
	}
}

func lookupStrings(raw map[string]any, key string) ([]string, error) {
	v, ok := raw[key]
	if !ok {
		return nil, invalidMessagef("missing required field `%s`", key)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, invalidMessagef("field `%s` must be a list of strings", key)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, invalidMessagef("field `%s` must be a list of strings", key)
		}
		out[i] = s
	}
	return out, nil
}

func lookupAddressByte(raw map[string]any, key string) (identity.Address, error) {
	v, ok := raw[key]
	if !ok {
		return 0, invalidMessagef("missing required field `%s`", key)
	}
	switch n := v.(type) {
	case int64:
		if n < 0 || n > 0xff {
			return 0, invalidMessagef("field `%s` must be a single byte", key)
		}
		return identity.Address(n), nil
	case uint64:
		if n > 0xff {
			return 0, invalidMessagef("field `%s` must be a single byte", key)
		}
		return identity.Address(n), nil
	default:
		return 0, invalidMessagef("field `%s` must be a single byte", key)
	}
}

func lookupAddressList(raw map[string]any, key string) ([]identity.Address, error) {
	v, ok := raw[key]
	if !ok {
		return nil, errAbsent
	}
	items, ok := v.([]any)
	if !ok {
		return nil, invalidMessagef("field `%s` must be a list of addresses", key)
	}
	out := make([]identity.Address, len(items))
	for i, item := range items {
		switch n := item.(type) {
		case int64:
			if n < 0 || n > 0xff {
				return nil, invalidMessagef("field `%s` contains an out-of-range address", key)
			}
			out[i] = identity.Address(n)
		case uint64:
			if n > 0xff {
				return nil, invalidMessagef("field `%s` contains an out-of-range address", key)
			}
			out[i] = identity.Address(n)
		default:
			return nil, invalidMessagef("field `%s` must be a list of addresses", key)
		}
	}
	return out, nil
}

// errAbsent signals "field absent" to lookupAddressList's caller, so the
// caller can distinguish a missing field from a present-but-empty list.
var errAbsent = fmt.Errorf("message: field absent")

func decodeServerHello(raw map[string]any) (Message, error) {
	key, err := lookupBinary32(raw, "key")
	if err != nil {
		return nil, err
	}
	return ServerHello{Key: key}, nil
}

func decodeClientHello(raw map[string]any) (Message, error) {
	key, err := lookupBinary32(raw, "key")
	if err != nil {
		return nil, err
	}
	return ClientHello{Key: key}, nil
}

func decodeClientAuth(raw map[string]any) (Message, error) {
	cookie, err := lookupBinary16(raw, "your_cookie")
	if err != nil {
		return nil, err
	}
	subprotocols, err := lookupStrings(raw, "subprotocols")
	if err != nil {
		return nil, err
	}
	pingInterval, err := lookupUint32(raw, "ping_interval")
	if err != nil {
		return nil, err
	}
	msg := ClientAuth{YourCookie: cookie, Subprotocols: subprotocols, PingInterval: pingInterval}
	if v, ok := raw["your_key"]; ok {
		b, ok := v.([]byte)
		if !ok || len(b) != 32 {
			return nil, invalidMessagef("field `your_key` must be 32-byte binary")
		}
		var key [32]byte
		copy(key[:], b)
		msg.YourKey = &key
	}
	return msg, nil
}

func decodeServerAuth(raw map[string]any) (Message, error) {
	cookie, err := lookupBinary16(raw, "your_cookie")
	if err != nil {
		return nil, err
	}
	msg := ServerAuth{YourCookie: cookie}
	if v, ok := raw["signed_keys"]; ok {
		b, ok := v.([]byte)
		if !ok {
			return nil, invalidMessagef("field `signed_keys` must be binary")
		}
		msg.SignedKeys = b
	}
	if responders, err := lookupAddressList(raw, "responders"); err == nil {
		msg.HasResponders = true
		msg.Responders = responders
	} else if err != errAbsent {
		return nil, err
	}
	if v, ok := raw["initiator_connected"]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, invalidMessagef("field `initiator_connected` must be a boolean")
		}
		msg.HasInitiatorConnected = true
		msg.InitiatorConnected = b
	}
	return msg, nil
}

func decodeNewResponder(raw map[string]any) (Message, error) {
	id, err := lookupAddressByte(raw, "id")
	if err != nil {
		return nil, err
	}
	return NewResponder{ID: id}, nil
}

func decodeDropResponder(raw map[string]any) (Message, error) {
	id, err := lookupAddressByte(raw, "id")
	if err != nil {
		return nil, err
	}
	msg := DropResponder{ID: id}
	if v, ok := raw["reason"]; ok {
		reason, err := toUint32(v)
		if err != nil {
			return nil, invalidMessagef("field `reason` must be an integer")
		}
		msg.HasReason = true
		msg.Reason = reason
	}
	return msg, nil
}

func decodeSendError(raw map[string]any) (Message, error) {
	v, ok := raw["id"]
	if !ok {
		return nil, invalidMessagef("missing required field `id`")
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, invalidMessagef("field `id` must be binary")
	}
	return SendError{ID: b}, nil
}

func decodeToken(raw map[string]any) (Message, error) {
	key, err := lookupBinary32(raw, "key")
	if err != nil {
		return nil, err
	}
	return Token{Key: key}, nil
}

func decodeKey(raw map[string]any) (Message, error) {
	key, err := lookupBinary32(raw, "key")
	if err != nil {
		return nil, err
	}
	return Key{Key: key}, nil
}

func toUint32(v any) (uint32, error) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative")
		}
		return uint32(n), nil
	case uint64:
		return uint32(n), nil
	default:
		return 0, fmt.Errorf("not an integer")
	}
}
