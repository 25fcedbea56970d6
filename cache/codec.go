package cache

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
)

// Codec serializes typed values for the byte-valued Store.
type Codec interface {
	// Name identifies the codec in diagnostics.
	Name() string

	// Marshal encodes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into v.
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

// JSONCodec returns the default JSON codec.
func JSONCodec() Codec { return jsonCodec{} }

func (jsonCodec) Name() string                        { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)       { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error  { return json.Unmarshal(data, v) }

type gobCodec struct{}

// GobCodec returns a gob codec for values JSON cannot represent cleanly.
func GobCodec() Codec { return gobCodec{} }

func (gobCodec) Name() string { return "gob" }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Ensure both codecs satisfy Codec.
var (
	_ Codec = jsonCodec{}
	_ Codec = gobCodec{}
)
