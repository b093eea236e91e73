package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/statetree/server/internal/statesync"
)

// MessagePackCodec carries the same logical structure as jsonObject in
// MessagePack binary frames.
type MessagePackCodec struct{}

func (MessagePackCodec) Name() string { return EncodingMessagePack }
func (MessagePackCodec) Binary() bool { return true }

func (MessagePackCodec) EncodeEnvelope(env *Envelope) ([]byte, error) {
	doc, err := toDoc(env)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(doc)
}

func (MessagePackCodec) DecodeEnvelope(data []byte) (*Envelope, error) {
	var doc envelopeDoc
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode msgpack envelope: %w", err)
	}
	return fromDoc(&doc)
}

func (MessagePackCodec) EncodeUpdate(u *statesync.StateUpdate) ([]byte, error) {
	return msgpack.Marshal(updateToDoc(u))
}

func (MessagePackCodec) DecodeUpdate(data []byte) (*statesync.StateUpdate, error) {
	var doc updateDoc
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode msgpack update: %w", err)
	}
	return updateFromDoc(&doc)
}
