package snapshot

import (
	"errors"
	"maps"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"metastore/internal/metadata"
)

func sample() map[string]map[string]string {
	return map[string]map[string]string{
		"Foo":   {"Bar": "Baz", "Bait": "Quux"},
		"id":    {"ego": "superego"},
		"empty": {},
	}
}

func equalData(a, b map[string]map[string]string) bool {
	return maps.EqualFunc(a, b, func(x, y map[string]string) bool { return maps.Equal(x, y) })
}

func TestCodecRoundTrip(t *testing.T) {
	for _, format := range []string{"json", "binary"} {
		t.Run(format, func(t *testing.T) {
			c, err := CodecFor(format)
			if err != nil {
				t.Fatal(err)
			}
			if c.Name() != format {
				t.Fatalf("Name = %q", c.Name())
			}
			b, err := c.Encode(sample())
			if err != nil {
				t.Fatal(err)
			}
			got, err := c.Decode(b)
			if err != nil {
				t.Fatal(err)
			}
			if !equalData(got, sample()) {
				t.Fatalf("round trip = %v", got)
			}
		})
	}
}

func TestCodecForDefault(t *testing.T) {
	c, err := CodecFor("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "json" {
		t.Fatalf("default codec = %q, want json", c.Name())
	}
}

func TestBinaryEncodeDeterministic(t *testing.T) {
	c := binaryCodec{}
	a, _ := c.Encode(sample())
	b, _ := c.Encode(sample())
	if string(a) != string(b) {
		t.Fatal("binary encoding should be deterministic")
	}
}

func TestBinaryDecodeEmpty(t *testing.T) {
	got, err := binaryCodec{}.Decode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}

func TestBinaryDecodeMalformed(t *testing.T) {
	flat, _ := proto.Marshal(&structpb.Struct{Fields: map[string]*structpb.Value{
		"Foo": structpb.NewStringValue("Bar"),
	}})
	numeric, _ := proto.Marshal(&structpb.Struct{Fields: map[string]*structpb.Value{
		"Foo": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"Bar": structpb.NewNumberValue(1),
		}}),
	}})

	tests := []struct {
		name  string
		input []byte
	}{
		{"garbage", []byte{0xff, 0xff, 0xff}},
		{"flat", flat},
		{"numeric value", numeric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := (binaryCodec{}).Decode(tt.input); !errors.Is(err, metadata.ErrMalformedInput) {
				t.Fatalf("err = %v, want ErrMalformedInput", err)
			}
		})
	}
}

func TestCodecsRejectInvalidUTF8Alike(t *testing.T) {
	bad := map[string]map[string]string{"a": {"k": "\xff\xfe binary"}}
	for _, format := range []string{"json", "binary"} {
		c, _ := CodecFor(format)
		b, err := c.Encode(bad)
		if !errors.Is(err, metadata.ErrMalformedInput) {
			t.Errorf("%s: Encode = %q, %v; want ErrMalformedInput", format, b, err)
		}
	}
}
