package transcode

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"go.eventcore.dev"
)

// Envelope discriminator keys, per spec.md §6.
const (
	envelopeClass    = "__class__"
	envelopeType     = "__type__"
	envelopeTuple    = "__tuple__"
	envelopeSet      = "__set__"
	envelopeDeque    = "__deque__"
	envelopeEnum     = "__enum__"
	envelopeDecimal  = "__decimal__"
	envelopeUUID     = "UUID"
	envelopeDateTime = "ISO8601_datetime"
	envelopeDate     = "ISO8601_date"
	envelopeTime     = "ISO8601_time"
)

// Deque is an ordered sequence encoded with an explicit envelope, so a
// caller can distinguish "this is meant to be replayed as an ordered queue"
// from an incidental JSON array.
type Deque []any

// Set is an unordered collection of comparable values. It is always
// encoded with its elements sorted by their string representation so that
// two Sets built from the same elements in different insertion orders
// produce byte-identical state.
type Set []any

// Tuple is a fixed-arity ordered collection, distinct from a Deque in that
// its arity is part of its identity.
type Tuple []any

// Enum represents a named member of an enumeration identified by a topic
// (typically the enum's registered topic string) plus its member name.
type Enum struct {
	Topic string
	Name  string
}

// Decimal holds an exact decimal literal. No arbitrary-precision decimal
// type ships in the example pack's dependency set, so this is a thin string
// newtype rather than a float, preserving the exact textual representation
// instead of risking float64 rounding.
type Decimal string

// Date is a calendar date with no time-of-day component.
type Date time.Time

// TimeOfDay is a time-of-day value with no calendar date component.
type TimeOfDay time.Time

func registerBuiltins(t *Transcoder) {
	t.RegisterEncoder(eventcore.TypeDescriptor(""), func(v any) (any, error) {
		return map[string]any{envelopeType: string(v.(eventcore.TypeDescriptor))}, nil
	})
	t.RegisterDecoder(envelopeType, func(raw json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return eventcore.TypeDescriptor(s), nil
	})

	t.RegisterDecoder(envelopeClass, func(raw json.RawMessage) (any, error) {
		var envelope struct {
			Topic string                     `json:"topic"`
			State map[string]json.RawMessage `json:"state"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("transcode: decode class envelope: %w", err)
		}
		if t.classNewPointer == nil {
			return nil, fmt.Errorf("transcode: no class resolver configured, cannot decode topic %q", envelope.Topic)
		}
		ptr, err := t.classNewPointer(envelope.Topic)
		if err != nil {
			return nil, err
		}
		elem := ptr.Elem()
		rt := elem.Type()
		for i := 0; i < elem.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			raw, ok := envelope.State[field.Name]
			if !ok {
				continue
			}
			decoded, err := t.decodeValue(raw)
			if err != nil {
				return nil, err
			}
			if decoded == nil {
				continue
			}
			fv := elem.Field(i)
			dv := reflect.ValueOf(decoded)
			if dv.Type().AssignableTo(fv.Type()) {
				fv.Set(dv)
			} else if dv.Type().ConvertibleTo(fv.Type()) {
				fv.Set(dv.Convert(fv.Type()))
			}
		}
		return elem.Interface(), nil
	})

	t.RegisterEncoder(uuid.UUID{}, func(v any) (any, error) {
		u := v.(uuid.UUID)
		return map[string]any{envelopeUUID: u.String()}, nil
	})
	t.RegisterDecoder(envelopeUUID, func(raw json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("transcode: decode UUID: %w", err)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("transcode: parse UUID %q: %w", s, err)
		}
		return u, nil
	})

	t.RegisterEncoder(time.Time{}, func(v any) (any, error) {
		return map[string]any{envelopeDateTime: v.(time.Time).UTC().Format(time.RFC3339Nano)}, nil
	})
	t.RegisterDecoder(envelopeDateTime, func(raw json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	})

	t.RegisterEncoder(Date{}, func(v any) (any, error) {
		return map[string]any{envelopeDate: time.Time(v.(Date)).Format("2006-01-02")}, nil
	})
	t.RegisterDecoder(envelopeDate, func(raw json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		parsed, err := time.Parse("2006-01-02", s)
		return Date(parsed), err
	})

	t.RegisterEncoder(TimeOfDay{}, func(v any) (any, error) {
		return map[string]any{envelopeTime: time.Time(v.(TimeOfDay)).Format("15:04:05.999999999")}, nil
	})
	t.RegisterDecoder(envelopeTime, func(raw json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		parsed, err := time.Parse("15:04:05.999999999", s)
		return TimeOfDay(parsed), err
	})

	t.RegisterEncoder(Decimal(""), func(v any) (any, error) {
		return map[string]any{envelopeDecimal: string(v.(Decimal))}, nil
	})
	t.RegisterDecoder(envelopeDecimal, func(raw json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return Decimal(s), nil
	})

	t.RegisterEncoder(Enum{}, func(v any) (any, error) {
		e := v.(Enum)
		return map[string]any{envelopeEnum: map[string]any{"topic": e.Topic, "name": e.Name}}, nil
	})
	t.RegisterDecoder(envelopeEnum, func(raw json.RawMessage) (any, error) {
		var m struct {
			Topic string `json:"topic"`
			Name  string `json:"name"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return Enum{Topic: m.Topic, Name: m.Name}, nil
	})

	t.RegisterEncoder(Deque(nil), func(v any) (any, error) {
		items, err := t.encodeSlice([]any(v.(Deque)))
		if err != nil {
			return nil, err
		}
		return map[string]any{envelopeDeque: items}, nil
	})
	t.RegisterDecoder(envelopeDeque, func(raw json.RawMessage) (any, error) {
		items, err := t.decodeSliceRaw(raw)
		return Deque(items), err
	})

	t.RegisterEncoder(Set(nil), func(v any) (any, error) {
		items, err := t.encodeSlice([]any(v.(Set)))
		if err != nil {
			return nil, err
		}
		sort.Slice(items, func(i, j int) bool {
			return fmt.Sprint(items[i]) < fmt.Sprint(items[j])
		})
		return map[string]any{envelopeSet: items}, nil
	})
	t.RegisterDecoder(envelopeSet, func(raw json.RawMessage) (any, error) {
		items, err := t.decodeSliceRaw(raw)
		return Set(items), err
	})

	t.RegisterEncoder(Tuple(nil), func(v any) (any, error) {
		items, err := t.encodeSlice([]any(v.(Tuple)))
		if err != nil {
			return nil, err
		}
		return map[string]any{envelopeTuple: items}, nil
	})
	t.RegisterDecoder(envelopeTuple, func(raw json.RawMessage) (any, error) {
		items, err := t.decodeSliceRaw(raw)
		return Tuple(items), err
	})
}

func (t *Transcoder) encodeSlice(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		enc, err := t.encodeValue(item)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

func (t *Transcoder) decodeSliceRaw(raw json.RawMessage) ([]any, error) {
	decoded, err := t.decodeValue(raw)
	if err != nil {
		return nil, err
	}
	items, ok := decoded.([]any)
	if !ok {
		return nil, fmt.Errorf("transcode: expected array envelope body, got %T", decoded)
	}
	return items, nil
}
