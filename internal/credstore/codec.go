package credstore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// CodecVersion is written into every encoded blob. Decode refuses blobs of
// any other version.
const CodecVersion = 1

const bytesTag = "$bytes"

var (
	ErrUnsupportedVersion = errors.New("unsupported credential codec version")
	ErrUnsupportedValue   = errors.New("unsupported credential value")
)

// State is the complete authentication material of one channel: the identity
// record (Creds) and the signal keys grouped by category then id.
//
// Values may be built from string-keyed maps, slices and arrays of any element
// type, []byte, strings, bools, numbers, pointers and nil. Structs are
// rejected with ErrUnsupportedValue. After an Encode/Decode round trip byte
// data comes back as []byte, maps as map[string]any, lists as []any and
// numbers as json.Number.
type State struct {
	Creds map[string]any
	Keys  map[string]map[string]any
}

func NewState() *State {
	return &State{
		Creds: make(map[string]any),
		Keys:  make(map[string]map[string]any),
	}
}

type envelope struct {
	Version int                       `json:"v"`
	Creds   map[string]any            `json:"creds"`
	Keys    map[string]map[string]any `json:"keys"`
}

func Encode(s *State) ([]byte, error) {
	creds, err := encodeMap(s.Creds)
	if err != nil {
		return nil, fmt.Errorf("encode creds: %w", err)
	}
	env := envelope{
		Version: CodecVersion,
		Creds:   creds,
		Keys:    make(map[string]map[string]any, len(s.Keys)),
	}
	for category, entries := range s.Keys {
		encoded, err := encodeMap(entries)
		if err != nil {
			return nil, fmt.Errorf("encode keys %s: %w", category, err)
		}
		env.Keys[category] = encoded
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (*State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if env.Version != CodecVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}

	s := NewState()
	for k, v := range env.Creds {
		s.Creds[unescapeKey(k)] = reviveValue(v)
	}
	for category, entries := range env.Keys {
		revived := make(map[string]any, len(entries))
		for id, v := range entries {
			revived[unescapeKey(id)] = reviveValue(v)
		}
		s.Keys[category] = revived
	}
	return s, nil
}

func encodeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		encoded, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[escapeKey(k)] = encoded
	}
	return out, nil
}

// encodeValue rewrites every byte slice or byte array reachable from v into
// a bytesTag object. Containers of any element type are walked.
func encodeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return map[string]any{bytesTag: base64.StdEncoding.EncodeToString(t)}, nil
	case string, bool, json.Number:
		return t, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v, nil

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return encodeValue(rv.Elem().Interface())

	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			raw := make([]byte, rv.Len())
			for i := range raw {
				raw[i] = byte(rv.Index(i).Uint())
			}
			return encodeValue(raw)
		}
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			item, err := encodeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = item
		}
		return out, nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", ErrUnsupportedValue, rv.Type().Key())
		}
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			item, err := encodeValue(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[escapeKey(k)] = item
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func reviveValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if encoded, ok := t[bytesTag].(string); ok && len(t) == 1 {
			if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil {
				return raw
			}
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[unescapeKey(k)] = reviveValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = reviveValue(item)
		}
		return out
	default:
		return v
	}
}

// Caller keys starting with "$" get one more "$" so that no caller map can
// take the shape of a bytesTag object.
func escapeKey(k string) string {
	if strings.HasPrefix(k, "$") {
		return "$" + k
	}
	return k
}

func unescapeKey(k string) string {
	if strings.HasPrefix(k, "$$") {
		return k[1:]
	}
	return k
}
