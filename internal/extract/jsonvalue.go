package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/buger/jsonparser"
)

// object is a decoded JSON object that remembers key order. Header order of
// rendered tables follows document order, which map[string]any cannot keep.
type object struct {
	keys   []string
	values map[string]any
}

func newObject() *object {
	return &object{values: make(map[string]any)}
}

func (o *object) set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *object) get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// number keeps the literal text of a JSON number so "1" renders as "1".
type number string

// decodeJSON parses text as a single JSON value. ok is false when the text
// is not valid JSON; objects decode to *object, arrays to []any.
func decodeJSON(text string) (any, bool) {
	data := bytes.TrimSpace([]byte(text))
	if len(data) == 0 || !json.Valid(data) {
		return nil, false
	}
	raw, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, false
	}
	v, err := convert(raw, typ)
	if err != nil {
		return nil, false
	}
	return v, true
}

// decodeObject is decodeJSON restricted to objects.
func decodeObject(text string) (*object, bool) {
	v, ok := decodeJSON(text)
	if !ok {
		return nil, false
	}
	obj, ok := v.(*object)
	return obj, ok
}

func convert(raw []byte, typ jsonparser.ValueType) (any, error) {
	switch typ {
	case jsonparser.Object:
		obj := newObject()
		err := jsonparser.ObjectEach(raw, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
			k := string(key)
			if bytes.IndexByte(key, '\\') >= 0 {
				unescaped, err := jsonparser.ParseString(key)
				if err != nil {
					return err
				}
				k = unescaped
			}
			child, err := convert(value, dataType)
			if err != nil {
				return err
			}
			obj.set(k, child)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return obj, nil
	case jsonparser.Array:
		items := []any{}
		var inner error
		_, err := jsonparser.ArrayEach(raw, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
			if inner != nil {
				return
			}
			if err != nil {
				inner = err
				return
			}
			child, err := convert(value, dataType)
			if err != nil {
				inner = err
				return
			}
			items = append(items, child)
		})
		if err != nil {
			return nil, err
		}
		if inner != nil {
			return nil, inner
		}
		return items, nil
	case jsonparser.String:
		return jsonparser.ParseString(raw)
	case jsonparser.Number:
		return number(raw), nil
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(raw)
	default:
		return nil, nil
	}
}

// cellText renders a decoded value as a table cell. null renders empty,
// nested values render as compact JSON.
func cellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case number:
		return string(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		var sb strings.Builder
		writeJSON(&sb, v)
		return sb.String()
	}
}

func writeJSON(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case *object:
		sb.WriteByte('{')
		for i, k := range val.keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSONString(sb, k)
			sb.WriteByte(':')
			writeJSON(sb, val.values[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSON(sb, item)
		}
		sb.WriteByte(']')
	case string:
		writeJSONString(sb, val)
	case nil:
		sb.WriteString("null")
	default:
		sb.WriteString(cellText(val))
	}
}

func writeJSONString(sb *strings.Builder, s string) {
	data, _ := json.Marshal(s)
	sb.Write(data)
}
