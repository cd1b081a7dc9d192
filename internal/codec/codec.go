// Package codec implements the pluggable packet encode/decode contract: a
// "type" discriminator is peeked off each frame before dispatching to the
// concrete payload layout.
package codec

import (
	"fmt"

	"github.com/altruist-gg/altruist/internal/packet"
)

// Codec encodes and decodes packets to/from wire frames. Concrete packet
// types are registered once at startup; decode peeks the discriminator and
// dispatches to the matching factory.
type Codec interface {
	// Encode serializes p into a wire frame.
	Encode(p packet.Packet) ([]byte, error)
	// Decode inspects frame's discriminator and returns the matching
	// concrete packet, populated from the frame.
	Decode(frame []byte) (packet.Packet, error)
	// Name identifies the codec for logging/metrics.
	Name() string
}

// Factory constructs a zero-value concrete packet for a given discriminator.
type Factory func() packet.Packet

// Registry maps discriminators to packet factories, shared by every Codec
// implementation so a single registration covers both the JSON and binary
// codecs.
type Registry struct {
	factories map[string]Factory
	codes     map[string]uint16
	byCode    map[uint16]string
	next      uint16
}

// NewRegistry builds a Registry pre-populated with the core packet types.
// Numeric codes are assigned in registration order, so a Registry built with
// the same registration sequence on every process (as NewRegistry always is)
// produces stable codes across the fleet without a separate code table.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		codes:     make(map[string]uint16),
		byCode:    make(map[uint16]string),
	}
	r.Register(packet.TypeHandshake, func() packet.Packet { return &packet.HandshakePacket{} })
	r.Register(packet.TypeJoinGame, func() packet.Packet { return &packet.JoinGamePacket{} })
	r.Register(packet.TypeLeaveGame, func() packet.Packet { return &packet.LeaveGamePacket{} })
	r.Register(packet.TypeSync, func() packet.Packet { return &packet.SyncPacket{} })
	r.Register(packet.TypeSuccess, func() packet.Packet { return &packet.SuccessPacket{} })
	r.Register(packet.TypeFailed, func() packet.Packet { return &packet.FailedPacket{} })
	r.Register(packet.TypeRoom, func() packet.Packet { return &packet.RoomPacket{} })
	r.Register(packet.TypeMove, func() packet.Packet { return &packet.MovePacket{} })
	r.Register(packet.TypeInterprocess, func() packet.Packet { return &packet.InterprocessPacket{} })
	return r
}

// Register adds or overrides the factory for a discriminator, assigning it
// the next free numeric code if it doesn't already have one.
func (r *Registry) Register(discriminator string, f Factory) {
	r.factories[discriminator] = f
	if _, ok := r.codes[discriminator]; !ok {
		r.next++
		r.codes[discriminator] = r.next
		r.byCode[r.next] = discriminator
	}
}

// New returns a zero-value packet for discriminator, or an error if unknown.
func (r *Registry) New(discriminator string) (packet.Packet, error) {
	f, ok := r.factories[discriminator]
	if !ok {
		return nil, fmt.Errorf("codec: unknown packet type %q", discriminator)
	}
	return f(), nil
}

// Code returns the numeric code for a discriminator, used by the binary codec
// in place of the full type string.
func (r *Registry) Code(discriminator string) (uint16, error) {
	code, ok := r.codes[discriminator]
	if !ok {
		return 0, fmt.Errorf("codec: unknown packet type %q", discriminator)
	}
	return code, nil
}

// Discriminator resolves a numeric code back to its type string.
func (r *Registry) Discriminator(code uint16) (string, error) {
	d, ok := r.byCode[code]
	if !ok {
		return "", fmt.Errorf("codec: unknown packet code %d", code)
	}
	return d, nil
}
