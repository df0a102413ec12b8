package journal

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
)

// Codec converts register values to and from journal payloads
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// GobCodec encodes payloads with encoding/gob. Values with unexported
// fields need their own GobEncoder implementation.
type GobCodec struct{}

func (GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// JSONCodec encodes payloads as JSON, which keeps the journal readable
// by other tools.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
