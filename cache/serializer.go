package cache

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer turns fetch results into the opaque payload bytes the store
// keeps, and back.
type Serializer interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

const (
	SerializerJSON    = "json"
	SerializerMsgpack = "msgpack"
)

// JSONSerializer is the default. Payloads stay human readable in the
// durable tier.
type JSONSerializer struct{}

func NewJSONSerializer() *JSONSerializer { return &JSONSerializer{} }

func (s *JSONSerializer) Name() string { return SerializerJSON }

func (s *JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (s *JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// MsgpackSerializer trades readability for smaller entries. Structs are
// matched by their json tags so the same types work with either serializer.
type MsgpackSerializer struct{}

func NewMsgpackSerializer() *MsgpackSerializer { return &MsgpackSerializer{} }

func (s *MsgpackSerializer) Name() string { return SerializerMsgpack }

func (s *MsgpackSerializer) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *MsgpackSerializer) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// SerializerByName resolves a configured serializer name.
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case "", SerializerJSON:
		return NewJSONSerializer(), nil
	case SerializerMsgpack:
		return NewMsgpackSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}
