// Package transcode implements component B: a bidirectional, extensible
// JSON codec that turns typed domain event payloads into the opaque byte
// state a StoredEvent carries, and back. Two dispatch tables drive it, an
// encoder table keyed by Go type (with one interface-based fallback) and a
// decoder table keyed by the sole key of a one-key JSON object, mirroring
// the class-keyed / single-key-decoder dispatch design in spec.md §9.
package transcode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"go.eventcore.dev"
)

// Encoder turns a value of a specific Go type into its JSON-encodable
// representation (normally a single-key envelope map).
type Encoder func(value any) (any, error)

// Decoder turns the value under a registered envelope key back into a Go
// value.
type Decoder func(raw json.RawMessage) (any, error)

// Transcoder holds the encoder/decoder dispatch tables and implements
// Encode/Decode for DomainEvent payloads. The zero value is not usable;
// construct with New, which registers the built-in handlers described in
// spec.md §4.B.
type Transcoder struct {
	encodersByType map[reflect.Type]Encoder
	decoders       map[string]Decoder

	// classTopicOf and classNewPointer back the generic "__class__"
	// envelope fallback for struct values with no dedicated encoder. They
	// are typically bound to a *topic.Registry by the caller via
	// WithClassResolver; left nil, unregistered structs raise
	// EncoderTypeError instead of silently falling back to reflection on
	// unexported internals.
	classTopicOf    func(value any) (string, bool)
	classNewPointer func(topic string) (reflect.Value, error)
}

// New returns a Transcoder with the built-in handlers registered: UUID,
// date/time/datetime, decimal, enum, type descriptors (TypeDescriptor),
// ordered sequences, sets, tuples.
func New() *Transcoder {
	t := &Transcoder{
		encodersByType: make(map[reflect.Type]Encoder),
		decoders:       make(map[string]Decoder),
	}
	registerBuiltins(t)
	return t
}

// WithClassResolver binds the "__class__" envelope fallback to a topic
// source (normally *topic.Registry.TryTopicOf / NewPointer), enabling
// struct values with no dedicated encoder to round-trip as
// {"__class__": {"topic": T, "state": S}} per spec.md §4.B.
func (t *Transcoder) WithClassResolver(topicOf func(any) (string, bool), newPointer func(string) (reflect.Value, error)) *Transcoder {
	t.classTopicOf = topicOf
	t.classNewPointer = newPointer
	return t
}

// RegisterEncoder binds the encoder for values of sample's exact Go type.
func (t *Transcoder) RegisterEncoder(sample any, enc Encoder) {
	t.encodersByType[reflect.TypeOf(sample)] = enc
}

// RegisterDecoder binds the decoder invoked when a decoded JSON object has
// exactly one key equal to envelopeKey.
func (t *Transcoder) RegisterDecoder(envelopeKey string, dec Decoder) {
	t.decoders[envelopeKey] = dec
}

// EncodePayload encodes a DomainEvent payload map into canonical compact
// JSON with lexicographically sorted keys, per spec.md §6.
func (t *Transcoder) EncodePayload(payload map[string]any) ([]byte, error) {
	encoded, err := t.encodeValue(payload)
	if err != nil {
		return nil, err
	}
	return canonicalJSON(encoded)
}

// DecodePayload is the inverse of EncodePayload.
func (t *Transcoder) DecodePayload(state []byte) (map[string]any, error) {
	var raw json.RawMessage = state
	decoded, err := t.decodeValue(raw)
	if err != nil {
		return nil, err
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("transcode: decoded payload is not an object (got %T)", decoded)
	}
	return m, nil
}

// encodeValue recursively encodes v: maps and slices recurse field-by-field,
// registered types dispatch to their Encoder, everything else is passed to
// encoding/json as-is (bool, string, float64/number, nil).
func (t *Transcoder) encodeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Map {
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			enc, err := t.encodeValue(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[key] = enc
		}
		return out, nil
	}
	if enc, ok := t.encodersByType[reflect.TypeOf(v)]; ok {
		return enc(v)
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			enc, err := t.encodeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case reflect.Func:
		return nil, &eventcore.EncoderTypeError{GoType: rv.Type().String()}
	case reflect.Struct:
		return t.encodeClass(v)
	}
	return v, nil
}

// encodeClass implements the "__class__" envelope fallback for struct
// values with no dedicated encoder: {"topic": T, "state": S} where S is
// the recursively encoded map of exported fields.
func (t *Transcoder) encodeClass(v any) (any, error) {
	if t.classTopicOf == nil {
		return nil, &eventcore.EncoderTypeError{GoType: reflect.TypeOf(v).String()}
	}
	topic, ok := t.classTopicOf(v)
	if !ok {
		return nil, &eventcore.EncoderTypeError{GoType: reflect.TypeOf(v).String()}
	}
	rv := reflect.ValueOf(v)
	state := make(map[string]any, rv.NumField())
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		enc, err := t.encodeValue(rv.Field(i).Interface())
		if err != nil {
			return nil, err
		}
		state[field.Name] = enc
	}
	return map[string]any{envelopeClass: map[string]any{"topic": topic, "state": state}}, nil
}

// decodeValue recursively decodes a json.RawMessage: objects with exactly
// one key present in the decoder table dispatch to it; other objects and
// arrays recurse; scalars pass through encoding/json's default decoding.
func (t *Transcoder) decodeValue(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("transcode: decode object: %w", err)
		}
		if len(obj) == 1 {
			for key, val := range obj {
				if dec, ok := t.decoders[key]; ok {
					return dec(val)
				}
			}
		}
		out := make(map[string]any, len(obj))
		for key, val := range obj {
			decoded, err := t.decodeValue(val)
			if err != nil {
				return nil, err
			}
			out[key] = decoded
		}
		return out, nil
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("transcode: decode array: %w", err)
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			decoded, err := t.decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	default:
		var scalar any
		if err := json.Unmarshal(trimmed, &scalar); err != nil {
			return nil, fmt.Errorf("transcode: decode scalar: %w", err)
		}
		return scalar, nil
	}
}

// canonicalJSON marshals v with lexicographically sorted object keys and
// compact separators, so that equal payloads always produce byte-identical
// state, which satisfies spec.md §6. (The player's hash chain does not hash
// these bytes; it renders the decoded payload itself.)
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := sortKeys(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// sortKeys recursively turns map[string]any into an orderedMap so that
// encoding/json emits keys in sorted order (the stdlib encoder otherwise
// sorts map[string]any keys already, but we make the guarantee explicit and
// independent of that implementation detail).
func sortKeys(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		om := orderedMap{keys: keys, values: make(map[string]any, len(val))}
		for _, k := range keys {
			nested, err := sortKeys(val[k])
			if err != nil {
				return nil, err
			}
			om.values[k] = nested
		}
		return om, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			nested, err := sortKeys(item)
			if err != nil {
				return nil, err
			}
			out[i] = nested
		}
		return out, nil
	default:
		return v, nil
	}
}

// orderedMap marshals as a JSON object with its keys in the fixed order
// captured at construction time, rather than encoding/json's own map key
// sort (which is equivalent today but not contractual upstream).
type orderedMap struct {
	keys   []string
	values map[string]any
}

func (om orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range om.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := json.Marshal(om.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
