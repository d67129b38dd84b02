package cacheinfra

import "github.com/vmihailenco/msgpack/v5"

// MsgpackCodec encodes cache entries and values with msgpack.
type MsgpackCodec struct{}

// Marshal implements cache.Codec.
func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal implements cache.Codec.
func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
