package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "json"

// jsonCodec replaces the protobuf wire codec with plain JSON. No .proto
// toolchain is vendored for this module, so every request/response is a
// hand-written Go struct with json tags instead of generated message
// types; this codec is what lets grpc.Server and grpc.ClientConn move
// those structs over the wire.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
