package deeppager

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/lo"
	"github.com/segmentio/encoding/json"
)

// FieldType is the semantic type of a document field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInt64   FieldType = "int64"
	FieldFloat64 FieldType = "float64"
	FieldBool    FieldType = "bool"
	FieldTime    FieldType = "time"
	FieldObject  FieldType = "object"
)

func (t FieldType) Valid() bool {
	return lo.Contains([]FieldType{FieldString, FieldInt64, FieldFloat64, FieldBool, FieldTime, FieldObject}, t)
}

// Schema maps document field names to their semantic types. Fields absent
// from the schema are decoded by their JSON shape.
type Schema map[string]FieldType

// ParseSchema builds a Schema from plain strings, e.g. configuration values.
func ParseSchema(raw map[string]string) (Schema, error) {
	schema := make(Schema, len(raw))
	for field, rawType := range raw {
		typ := FieldType(strings.ToLower(strings.TrimSpace(rawType)))
		if !typ.Valid() {
			return nil, fmt.Errorf("field '%s' has unknown type '%s'", field, rawType)
		}

		schema[field] = typ
	}

	return schema, nil
}

// DocumentCodec converts between document bodies and Go values.
type DocumentCodec interface {
	Decode(raw []byte, dst any) error
	Encode(src any) ([]byte, error)
}

// CodecConfig is passed to NewJSONCodec once; codecs never consult global state.
type CodecConfig struct {
	// DateLayout is the layout of FieldTime values. Defaults to time.RFC3339Nano.
	DateLayout string
	// AllowUnknownFields tolerates body fields the target shape has no room for.
	AllowUnknownFields bool
	Schema             Schema
}

// JSONCodec is the schema-driven DocumentCodec.
type JSONCodec struct {
	cfg CodecConfig
}

var _ DocumentCodec = (*JSONCodec)(nil)

func NewJSONCodec(cfg CodecConfig) *JSONCodec {
	if cfg.DateLayout == "" {
		cfg.DateLayout = time.RFC3339Nano
	}

	return &JSONCodec{cfg: cfg}
}

// Decode converts raw into dst, which must be a non-nil pointer. An empty
// body decodes into the zero value.
func (c *JSONCodec) Decode(raw []byte, dst any) error {
	doc := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}

	for field, value := range doc {
		typ, ok := c.cfg.Schema[field]
		if !ok || value == nil {
			doc[field] = normalizeNumbers(value)
			continue
		}

		coerced, err := c.coerce(value, typ)
		if err != nil {
			return fmt.Errorf("%w: field '%s': %w", ErrDecode, field, err)
		}
		doc[field] = coerced
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeHookFunc(c.cfg.DateLayout),
		ErrorUnused: !c.cfg.AllowUnknownFields,
		TagName:     "json",
		Result:      dst,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if err = decoder.Decode(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return nil
}

// Encode converts src into a JSON body, writing FieldTime values with the
// configured layout.
func (c *JSONCodec) Encode(src any) ([]byte, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	timeFields := lo.PickByValues(c.cfg.Schema, []FieldType{FieldTime})
	if len(timeFields) == 0 || c.cfg.DateLayout == time.RFC3339Nano {
		return raw, nil
	}

	doc := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err = dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %T is not a document: %w", ErrEncode, src, err)
	}

	for field := range timeFields {
		s, ok := doc[field].(string)
		if !ok {
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: field '%s': %w", ErrEncode, field, err)
		}
		doc[field] = ts.Format(c.cfg.DateLayout)
	}

	raw, err = json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	return raw, nil
}

func (c *JSONCodec) coerce(value any, typ FieldType) (any, error) {
	switch typ {
	case FieldString:
		switch vt := value.(type) {
		case string:
			return vt, nil
		case json.Number:
			return vt.String(), nil
		case bool:
			return strconv.FormatBool(vt), nil
		}
	case FieldInt64:
		switch vt := value.(type) {
		case json.Number:
			if i, err := vt.Int64(); err == nil {
				return i, nil
			}
			f, err := vt.Float64()
			if err == nil && f == math.Trunc(f) && math.Abs(f) <= math.MaxInt64 {
				return int64(f), nil
			}
			return nil, fmt.Errorf("'%s' is not an int64", vt)
		case string:
			return strconv.ParseInt(strings.TrimSpace(vt), 10, 64)
		}
	case FieldFloat64:
		switch vt := value.(type) {
		case json.Number:
			return vt.Float64()
		case string:
			return strconv.ParseFloat(strings.TrimSpace(vt), 64)
		}
	case FieldBool:
		switch vt := value.(type) {
		case bool:
			return vt, nil
		case string:
			return strconv.ParseBool(vt)
		}
	case FieldTime:
		switch vt := value.(type) {
		case string:
			return time.Parse(c.cfg.DateLayout, vt)
		case json.Number:
			// Engines store dates without an explicit format as epoch millis.
			ms, err := vt.Int64()
			if err != nil {
				return nil, err
			}
			return time.UnixMilli(ms).UTC(), nil
		}
	case FieldObject:
		return normalizeNumbers(value), nil
	default:
		return nil, fmt.Errorf("unknown field type '%s'", typ)
	}

	return nil, fmt.Errorf("%s cannot hold %T", typ, value)
}

// normalizeNumbers replaces json.Number values with int64 where exact and
// float64 otherwise, recursing into objects and arrays.
func normalizeNumbers(value any) any {
	switch vt := value.(type) {
	case json.Number:
		if i, err := vt.Int64(); err == nil {
			return i
		}
		f, _ := vt.Float64()
		return f
	case map[string]any:
		for k, v := range vt {
			vt[k] = normalizeNumbers(v)
		}
		return vt
	case []any:
		for i, v := range vt {
			vt[i] = normalizeNumbers(v)
		}
		return vt
	default:
		return value
	}
}
