package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"unicode/utf8"
)

// Serialize encodes the whole store as a JSON object of objects:
//
//	{"id": {"key": "value", ...}, ...}
//
// IDs with no keys encode as empty objects. A store holding an ID, key or
// value that is not valid UTF-8 cannot be encoded without altering it and
// fails with ErrMalformedInput.
func (s *Store) Serialize() ([]byte, error) {
	data := s.Snapshot()
	if err := CheckEncodable(data); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	text, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return text, nil
}

// CheckEncodable reports the first ID, key or value in data that is not
// valid UTF-8. IDs and keys are checked in sorted order.
func CheckEncodable(data map[string]map[string]string) error {
	for _, id := range slices.Sorted(maps.Keys(data)) {
		if !utf8.ValidString(id) {
			return fmt.Errorf("id %q is not valid UTF-8: %w", id, ErrMalformedInput)
		}
		kv := data[id]
		for _, k := range slices.Sorted(maps.Keys(kv)) {
			if !utf8.ValidString(k) {
				return fmt.Errorf("key %q in %q is not valid UTF-8: %w", k, id, ErrMalformedInput)
			}
			if !utf8.ValidString(kv[k]) {
				return fmt.Errorf("value of %q/%q is not valid UTF-8: %w", id, k, ErrMalformedInput)
			}
		}
	}
	return nil
}

// Deserialize builds a new store from the output of Serialize.
func Deserialize(text []byte) (*Store, error) {
	data, err := decode(text)
	if err != nil {
		return nil, err
	}
	s := New()
	s.Restore(data)
	return s, nil
}

// Load replaces the contents of s with the store encoded in text.
// The text is fully parsed before anything is replaced, so on error
// s is left untouched.
func (s *Store) Load(text []byte) error {
	data, err := decode(text)
	if err != nil {
		return err
	}
	s.Restore(data)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s *Store) MarshalJSON() ([]byte, error) {
	return s.Serialize()
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Store) UnmarshalJSON(text []byte) error {
	return s.Load(text)
}

// decode parses text into a fresh nested map. Anything other than a single
// object whose members are objects of strings is rejected, as are invalid
// UTF-8, null values and repeated IDs or keys.
func decode(text []byte) (map[string]map[string]string, error) {
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, fmt.Errorf("deserialize: empty input: %w", ErrMalformedInput)
	}
	if !utf8.Valid(text) {
		return nil, fmt.Errorf("deserialize: input is not valid UTF-8: %w", ErrMalformedInput)
	}

	dec := json.NewDecoder(bytes.NewReader(text))
	if err := expectDelim(dec, '{', "top level"); err != nil {
		return nil, err
	}
	data := make(map[string]map[string]string)
	for dec.More() {
		id, err := nextKey(dec)
		if err != nil {
			return nil, err
		}
		if _, dup := data[id]; dup {
			return nil, fmt.Errorf("deserialize: duplicate id %q: %w", id, ErrMalformedInput)
		}
		kv, err := decodeBucket(dec, id)
		if err != nil {
			return nil, err
		}
		data[id] = kv
	}
	if err := expectDelim(dec, '}', "top level"); err != nil {
		return nil, err
	}
	if tok, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("deserialize: trailing data after object (%v, %v): %w", tok, err, ErrMalformedInput)
	}
	return data, nil
}

func decodeBucket(dec *json.Decoder, id string) (map[string]string, error) {
	if err := expectDelim(dec, '{', fmt.Sprintf("id %q", id)); err != nil {
		return nil, err
	}
	kv := make(map[string]string)
	for dec.More() {
		key, err := nextKey(dec)
		if err != nil {
			return nil, err
		}
		if _, dup := kv[key]; dup {
			return nil, fmt.Errorf("deserialize: duplicate key %q in %q: %w", key, id, ErrMalformedInput)
		}
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("deserialize: %w: %w", ErrMalformedInput, err)
		}
		v, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("deserialize: %q/%q is not a string: %w", id, key, ErrMalformedInput)
		}
		kv[key] = v
	}
	if err := expectDelim(dec, '}', fmt.Sprintf("id %q", id)); err != nil {
		return nil, err
	}
	return kv, nil
}

// nextKey reads an object member name.
func nextKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("deserialize: %w: %w", ErrMalformedInput, err)
	}
	name, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("deserialize: unexpected %v: %w", tok, ErrMalformedInput)
	}
	return name, nil
}

func expectDelim(dec *json.Decoder, want json.Delim, what string) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("deserialize: %s: %w: %w", what, ErrMalformedInput, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("deserialize: %s is not an object: %w", what, ErrMalformedInput)
	}
	return nil
}
