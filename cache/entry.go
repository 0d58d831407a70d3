package cache

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Entry is one cached payload with the metadata needed to judge it.
// Data is shared with the store and must not be modified.
type Entry struct {
	Key      string        `json:"key"`
	Kind     string        `json:"kind,omitempty"`
	Params   []string      `json:"params,omitempty"`
	Data     []byte        `json:"-"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
	Version  string        `json:"version"`
}

func (e *Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Fresh reports now - storedAt < ttl.
func (e *Entry) Fresh(now time.Time) bool {
	return e.Age(now) < e.TTL
}

// StructKey returns the structured key the entry was stored under.
func (e *Entry) StructKey() Key {
	if e.Kind == "" {
		return ParseKey(e.Key)
	}
	return Key{Kind: e.Kind, Params: e.Params}
}

// Envelopes written to the durable tier. Times are unix milliseconds.
type jsonEnvelope struct {
	Key      string          `json:"key"`
	Kind     string          `json:"kind,omitempty"`
	Params   []string        `json:"params,omitempty"`
	Data     json.RawMessage `json:"data"`
	StoredAt int64           `json:"stored_at"`
	TTL      int64           `json:"ttl_ms"`
	Version  string          `json:"version"`
}

type binaryEnvelope struct {
	Key      string   `json:"key"`
	Kind     string   `json:"kind,omitempty"`
	Params   []string `json:"params,omitempty"`
	Data     []byte   `json:"data"`
	StoredAt int64    `json:"stored_at"`
	TTL      int64    `json:"ttl_ms"`
	Version  string   `json:"version"`
}

// encodeEntry renders e for the durable tier. JSON envelopes embed the
// payload as-is; other serializers are base64 encoded so every backend can
// hold the value as text.
func encodeEntry(ser Serializer, e *Entry) (string, error) {
	if ser.Name() == SerializerJSON {
		b, err := json.Marshal(jsonEnvelope{
			Key:      e.Key,
			Kind:     e.Kind,
			Params:   e.Params,
			Data:     json.RawMessage(e.Data),
			StoredAt: e.StoredAt.UnixMilli(),
			TTL:      e.TTL.Milliseconds(),
			Version:  e.Version,
		})
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	b, err := ser.Marshal(binaryEnvelope{
		Key:      e.Key,
		Kind:     e.Kind,
		Params:   e.Params,
		Data:     e.Data,
		StoredAt: e.StoredAt.UnixMilli(),
		TTL:      e.TTL.Milliseconds(),
		Version:  e.Version,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeEntry(ser Serializer, raw string) (*Entry, error) {
	if ser.Name() == SerializerJSON {
		var env jsonEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, err
		}
		if env.Key == "" || len(env.Data) == 0 {
			return nil, ErrDeserialize.WithMsgf("incomplete envelope")
		}
		return &Entry{
			Key:      env.Key,
			Kind:     env.Kind,
			Params:   env.Params,
			Data:     []byte(env.Data),
			StoredAt: time.UnixMilli(env.StoredAt),
			TTL:      time.Duration(env.TTL) * time.Millisecond,
			Version:  env.Version,
		}, nil
	}

	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	var env binaryEnvelope
	if err := ser.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	if env.Key == "" {
		return nil, ErrDeserialize.WithMsgf("incomplete envelope")
	}
	return &Entry{
		Key:      env.Key,
		Kind:     env.Kind,
		Params:   env.Params,
		Data:     env.Data,
		StoredAt: time.UnixMilli(env.StoredAt),
		TTL:      time.Duration(env.TTL) * time.Millisecond,
		Version:  env.Version,
	}, nil
}
