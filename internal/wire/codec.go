package wire

import (
	"fmt"

	"github.com/statetree/server/internal/statesync"
)

// Codec encoding names, as negotiated at connection setup and echoed in
// joinResponse.encoding.
const (
	EncodingJSONObject      = "jsonObject"
	EncodingOpcodeJSONArray = "opcodeJsonArray"
	EncodingMessagePack     = "messagepack"
)

// Codec translates envelopes and state-update frames to and from wire
// bytes. A session picks one codec for its entire life.
type Codec interface {
	Name() string
	// Binary reports whether frames should go out as binary websocket
	// messages rather than text.
	Binary() bool
	EncodeEnvelope(env *Envelope) ([]byte, error)
	DecodeEnvelope(data []byte) (*Envelope, error)
	EncodeUpdate(u *statesync.StateUpdate) ([]byte, error)
	DecodeUpdate(data []byte) (*statesync.StateUpdate, error)
}

// ForEncoding returns the codec for a negotiated encoding name.
func ForEncoding(name string) (Codec, error) {
	switch name {
	case EncodingJSONObject, "":
		return JSONObjectCodec{}, nil
	case EncodingOpcodeJSONArray:
		return OpcodeArrayCodec{}, nil
	case EncodingMessagePack:
		return MessagePackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
}
