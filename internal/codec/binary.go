package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/altruist-gg/altruist/internal/errors"
	"github.com/altruist-gg/altruist/internal/packet"
	"github.com/altruist-gg/altruist/internal/pool"
)

func init() {
	gob.Register(&packet.HandshakePacket{})
	gob.Register(&packet.JoinGamePacket{})
	gob.Register(&packet.LeaveGamePacket{})
	gob.Register(&packet.SyncPacket{})
	gob.Register(&packet.SuccessPacket{})
	gob.Register(&packet.FailedPacket{})
	gob.Register(&packet.RoomPacket{})
	gob.Register(&packet.MovePacket{})
	gob.Register(&packet.InterprocessPacket{})
}

// BinaryCodec is an alternative to JSONCodec: a 2-byte big-endian numeric
// type code (from Registry, in place of the JSON codec's string
// discriminator) followed by a gob-encoded payload. Each frame is written by
// a fresh gob encoder and so carries gob's type descriptors; for the core
// packet types its frames are larger than JSONCodec's, not smaller. The
// server wires JSONCodec; nothing outside this package's tests uses
// BinaryCodec.
type BinaryCodec struct {
	registry *Registry
}

// NewBinaryCodec builds a BinaryCodec backed by registry.
func NewBinaryCodec(registry *Registry) *BinaryCodec {
	return &BinaryCodec{registry: registry}
}

func (c *BinaryCodec) Name() string { return "binary" }

func (c *BinaryCodec) Encode(p packet.Packet) ([]byte, error) {
	code, err := c.registry.Code(p.Type())
	if err != nil {
		return nil, errors.NewDecodingError(err.Error(), err)
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := binary.Write(buf, binary.BigEndian, code); err != nil {
		return nil, errors.NewDecodingError("binary header encode failed", err)
	}
	if err := gob.NewEncoder(buf).Encode(p); err != nil {
		return nil, errors.NewDecodingError("binary payload encode failed", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (c *BinaryCodec) Decode(frame []byte) (packet.Packet, error) {
	if len(frame) < 2 {
		return nil, errors.NewDecodingError("binary frame too short", nil)
	}

	code := binary.BigEndian.Uint16(frame[:2])
	discriminator, err := c.registry.Discriminator(code)
	if err != nil {
		return nil, errors.NewDecodingError(err.Error(), err)
	}

	p, err := c.registry.New(discriminator)
	if err != nil {
		return nil, errors.NewDecodingError(err.Error(), err)
	}
	if err := gob.NewDecoder(bytes.NewReader(frame[2:])).Decode(p); err != nil {
		return nil, errors.NewDecodingError("binary payload decode failed for "+discriminator, err)
	}
	return p, nil
}
