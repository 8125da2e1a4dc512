package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"metastore/internal/metadata"
)

var ErrUnknownFormat = errors.New("unknown snapshot format")

// Codec converts store contents to and from bytes. Both codecs reject
// data that is not valid UTF-8 with metadata.ErrMalformedInput.
type Codec interface {
	Name() string
	Encode(data map[string]map[string]string) ([]byte, error)
	Decode(b []byte) (map[string]map[string]string, error)
}

// CodecFor returns the codec for "json" (the default) or "binary".
func CodecFor(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return jsonCodec{}, nil
	case "binary":
		return binaryCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// jsonCodec uses the store's own serialized form.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(data map[string]map[string]string) ([]byte, error) {
	if err := metadata.CheckEncodable(data); err != nil {
		return nil, err
	}
	return json.Marshal(data)
}

func (jsonCodec) Decode(b []byte) (map[string]map[string]string, error) {
	st, err := metadata.Deserialize(b)
	if err != nil {
		return nil, err
	}
	return st.Snapshot(), nil
}

// binaryCodec encodes the nested map as a google.protobuf.Struct whose
// fields are Structs of string values.
type binaryCodec struct{}

func (binaryCodec) Name() string { return "binary" }

func (binaryCodec) Encode(data map[string]map[string]string) ([]byte, error) {
	// Struct string fields must be valid UTF-8.
	if err := metadata.CheckEncodable(data); err != nil {
		return nil, err
	}
	fields := make(map[string]*structpb.Value, len(data))
	for id, kv := range data {
		inner := make(map[string]*structpb.Value, len(kv))
		for k, v := range kv {
			inner[k] = structpb.NewStringValue(v)
		}
		fields[id] = structpb.NewStructValue(&structpb.Struct{Fields: inner})
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(&structpb.Struct{Fields: fields})
}

func (binaryCodec) Decode(b []byte) (map[string]map[string]string, error) {
	var root structpb.Struct
	if err := proto.Unmarshal(b, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", metadata.ErrMalformedInput, err)
	}
	out := make(map[string]map[string]string, len(root.GetFields()))
	for id, v := range root.GetFields() {
		inner, ok := v.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return nil, fmt.Errorf("%w: id %q is not a struct", metadata.ErrMalformedInput, id)
		}
		kv := make(map[string]string, len(inner.StructValue.GetFields()))
		for k, val := range inner.StructValue.GetFields() {
			s, ok := val.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, fmt.Errorf("%w: %q/%q is not a string", metadata.ErrMalformedInput, id, k)
			}
			kv[k] = s.StringValue
		}
		out[id] = kv
	}
	return out, nil
}
