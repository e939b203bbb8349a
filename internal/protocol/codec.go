package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Decode parses a raw frame and checks its shape: a JSON object with a
// non-empty string "type" and an object "data".
func Decode(raw []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Envelope{}, Formatf("message must be a JSON object")
	}
	var env Envelope
	rawType, ok := fields["type"]
	if !ok {
		return Envelope{}, Formatf("missing type field")
	}
	if err := json.Unmarshal(rawType, &env.Type); err != nil {
		return Envelope{}, Formatf("type must be a string")
	}
	env.Data = fields["data"]
	if err := Validate(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks an already-parsed envelope.
func Validate(env Envelope) error {
	if strings.TrimSpace(env.Type) == "" {
		return Formatf("type must be a non-empty string")
	}
	if !isObject(env.Data) {
		return Formatf("data must be an object")
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 0 && b[0] == '{'
}

// New builds an outbound envelope. data must marshal to a JSON object.
func New(typ string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: typ, Data: json.RawMessage("{}")}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Envelope{Type: typ, Data: b}, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(typ string, data any) Envelope {
	env, err := New(typ, data)
	if err != nil {
		panic(err)
	}
	return env
}

// DecodeData unmarshals env.Data into v, reporting failures as format errors.
func DecodeData(env Envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return Formatf("bad %s payload: %v", env.Type, err)
	}
	return nil
}

// Marshal encodes the full frame.
func (e Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

// ValidatePlayerName trims and checks the name is 1..max runes.
func ValidatePlayerName(name string, max int) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < 1 || n > max {
		return "", &Error{Code: InvalidPlayerName, Limit: max}
	}
	return name, nil
}
