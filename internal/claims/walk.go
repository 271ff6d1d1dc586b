package claims

import (
	"encoding/json"
	"math"
	"strconv"
)

// object is a decoded JSON object plus its dotted path from the payload root.
type object struct {
	path string
	m    map[string]any
}

func (o object) name(key string) string {
	if o.path == "" {
		return key
	}
	return o.path + "." + key
}

func (o object) lookup(key string, required bool) (any, bool, error) {
	v, ok := o.m[key]
	if !ok {
		if required {
			return nil, false, missing(o.name(key))
		}
		return nil, false, nil
	}
	return v, true, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "unknown"
	}
}

func (o object) str(key string, required bool) (*string, error) {
	v, ok, err := o.lookup(key, required)
	if err != nil || !ok {
		return nil, err
	}
	s, isStr := v.(string)
	if !isStr {
		return nil, mismatch(o.name(key), "want string, got %s", typeName(v))
	}
	return &s, nil
}

func (o object) boolean(key string, required bool) (*bool, error) {
	v, ok, err := o.lookup(key, required)
	if err != nil || !ok {
		return nil, err
	}
	b, isBool := v.(bool)
	if !isBool {
		return nil, mismatch(o.name(key), "want boolean, got %s", typeName(v))
	}
	return &b, nil
}

func (o object) integer(key string, required bool) (*int64, error) {
	v, ok, err := o.lookup(key, required)
	if err != nil || !ok {
		return nil, err
	}
	n, isNum := v.(json.Number)
	if !isNum {
		return nil, mismatch(o.name(key), "want integer, got %s", typeName(v))
	}
	i, perr := strconv.ParseInt(n.String(), 10, 64)
	if perr != nil {
		return nil, mismatch(o.name(key), "want integer, got %s", n)
	}
	return &i, nil
}

func (o object) unsigned(key string, required bool, max uint64) (*uint64, error) {
	v, ok, err := o.lookup(key, required)
	if err != nil || !ok {
		return nil, err
	}
	n, isNum := v.(json.Number)
	if !isNum {
		return nil, mismatch(o.name(key), "want unsigned integer, got %s", typeName(v))
	}
	u, perr := strconv.ParseUint(n.String(), 10, 64)
	if perr != nil || u > max {
		return nil, mismatch(o.name(key), "want unsigned integer <= %d, got %s", max, n)
	}
	return &u, nil
}

func (o object) object(key string, required bool) (*object, error) {
	v, ok, err := o.lookup(key, required)
	if err != nil || !ok {
		return nil, err
	}
	m, isObj := v.(map[string]any)
	if !isObj {
		return nil, mismatch(o.name(key), "want object, got %s", typeName(v))
	}
	return &object{path: o.name(key), m: m}, nil
}

const anyUint = math.MaxUint64
