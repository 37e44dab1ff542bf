package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// PacketKind classifies a decoded frame.
type PacketKind int

const (
	PacketUnknown PacketKind = iota
	PacketOpen
	PacketClose
	PacketPing
	PacketPong
	PacketConnect
	PacketDisconnect
	PacketEvent
	PacketConnectError
)

// ErrMalformedPacket is returned for frames that cannot be decoded.
var ErrMalformedPacket = errors.New("malformed packet")

// Packet is a decoded Engine.IO / Socket.IO frame. Event and Payload are set
// for PacketEvent; Data holds the raw body of open, connect and
// connect_error packets.
type Packet struct {
	Kind    PacketKind
	Event   string
	Payload json.RawMessage
	Data    json.RawMessage
}

// DecodePacket parses one text frame. Only the default namespace is
// supported; packets addressed to another namespace are reported as
// PacketUnknown.
func DecodePacket(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, ErrMalformedPacket
	}
	switch frame[0] {
	case '0':
		return Packet{Kind: PacketOpen, Data: json.RawMessage(frame[1:])}, nil
	case '1':
		return Packet{Kind: PacketClose}, nil
	case '2':
		return Packet{Kind: PacketPing}, nil
	case '3':
		return Packet{Kind: PacketPong}, nil
	case '4':
		return decodeSocketPacket(frame[1:])
	default:
		return Packet{Kind: PacketUnknown}, nil
	}
}

func decodeSocketPacket(body []byte) (Packet, error) {
	if len(body) == 0 {
		return Packet{}, ErrMalformedPacket
	}
	kind := body[0]
	rest := body[1:]
	if len(rest) > 0 && rest[0] == '/' {
		comma := bytes.IndexByte(rest, ',')
		ns := rest
		if comma >= 0 {
			ns = rest[:comma]
			rest = rest[comma+1:]
		} else {
			rest = nil
		}
		if string(ns) != "/" {
			return Packet{Kind: PacketUnknown}, nil
		}
	}
	switch kind {
	case '0':
		return Packet{Kind: PacketConnect, Data: json.RawMessage(rest)}, nil
	case '1':
		return Packet{Kind: PacketDisconnect}, nil
	case '2':
		return decodeEvent(rest)
	case '4':
		return Packet{Kind: PacketConnectError, Data: json.RawMessage(rest)}, nil
	default:
		return Packet{Kind: PacketUnknown}, nil
	}
}

func decodeEvent(body []byte) (Packet, error) {
	// Skip an optional ack id.
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	var args []json.RawMessage
	if err := json.Unmarshal(body[i:], &args); err != nil {
		return Packet{}, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}
	if len(args) == 0 {
		return Packet{}, fmt.Errorf("%w: event without name", ErrMalformedPacket)
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return Packet{}, fmt.Errorf("%w: event name: %w", ErrMalformedPacket, err)
	}
	p := Packet{Kind: PacketEvent, Event: name}
	if len(args) > 1 {
		p.Payload = args[1]
	}
	return p, nil
}

// EncodeEvent builds a `42["event",payload]` frame.
func EncodeEvent(event string, payload any) ([]byte, error) {
	args := []any{event}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return append([]byte("42"), body...), nil
}

// EncodeConnect builds the namespace connect frame.
func EncodeConnect() []byte { return []byte("40") }

// EncodeDisconnect builds the namespace disconnect frame.
func EncodeDisconnect() []byte { return []byte("41") }

// EncodePong answers an Engine.IO ping.
func EncodePong() []byte { return []byte("3") }

// EncodePing builds an Engine.IO ping.
func EncodePing() []byte { return []byte("2") }

// EncodeOpen builds the Engine.IO open frame sent by servers.
func EncodeOpen(sid string, pingInterval, pingTimeout int) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"sid":          sid,
		"upgrades":     []string{},
		"pingInterval": pingInterval,
		"pingTimeout":  pingTimeout,
		"maxPayload":   1000000,
	})
	if err != nil {
		return nil, err
	}
	return append([]byte("0"), body...), nil
}

// EncodeConnectAck builds the `40{"sid":...}` frame sent by servers.
func EncodeConnectAck(sid string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"sid": sid})
	if err != nil {
		return nil, err
	}
	return append([]byte("40"), body...), nil
}
