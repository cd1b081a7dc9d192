package codec

import (
	"encoding/json"

	"github.com/altruist-gg/altruist/internal/errors"
	"github.com/altruist-gg/altruist/internal/packet"
)

// envelope carries the discriminator alongside the raw payload so Decode can
// peek the type before unmarshaling into a concrete struct.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JSONCodec is a human-readable text codec, the default for local
// development and debugging tools that need to read frames off the wire.
type JSONCodec struct {
	registry *Registry
}

// NewJSONCodec builds a JSONCodec backed by registry.
func NewJSONCodec(registry *Registry) *JSONCodec {
	return &JSONCodec{registry: registry}
}

func (c *JSONCodec) Name() string { return "json" }

func (c *JSONCodec) Encode(p packet.Packet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.NewDecodingError("json encode failed", err)
	}
	env := envelope{Type: p.Type(), Data: data}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, errors.NewDecodingError("json envelope encode failed", err)
	}
	return out, nil
}

func (c *JSONCodec) Decode(frame []byte) (packet.Packet, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errors.NewDecodingError("json envelope decode failed", err)
	}
	if env.Type == "" {
		return nil, errors.NewDecodingError("json frame missing type discriminator", nil)
	}

	p, err := c.registry.New(env.Type)
	if err != nil {
		return nil, errors.NewDecodingError(err.Error(), err)
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, errors.NewDecodingError("json payload decode failed for "+env.Type, err)
	}
	return p, nil
}
