package graph

import (
	"fmt"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// MarshalPayload encodes msg together with its type URL so that it can be
// decoded without knowing its type in advance.
func MarshalPayload(msg proto.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("marshal payload: nil message")
	}
	wrapped, err := anypb.New(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return proto.Marshal(wrapped)
}

// UnmarshalPayload decodes a payload produced by MarshalPayload. The payload
// type must be linked into the binary.
func UnmarshalPayload(data []byte) (proto.Message, error) {
	wrapped := new(anypb.Any)
	if err := proto.Unmarshal(data, wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	msg, err := wrapped.UnmarshalNew()
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload %s: %w", wrapped.GetTypeUrl(), err)
	}
	return msg, nil
}
