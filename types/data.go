package types

import (
	"encoding/json"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/cast"
)

// Data is a loosely typed document, used for session partial updates and
// collaborator parameters.
type Data map[string]any

func (d *Data) Get(key string) (any, bool) {
	v, exists := (*d)[key]
	return v, exists
}

func (d *Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	return cast.ToString(v), exists
}

func (d *Data) GetInt(key string) (int, bool) {
	v, exists := d.Get(key)
	return cast.ToInt(v), exists
}

func (d *Data) GetBool(key string) (bool, bool) {
	v, exists := d.Get(key)
	return cast.ToBool(v), exists
}

func (d *Data) GetFloat64(key string) (float64, bool) {
	v, exists := d.Get(key)
	return cast.ToFloat64(v), exists
}

// GetStringMap reads a nested object as map[string]string, e.g. the stems
// field of a session document.
func (d *Data) GetStringMap(key string) (map[string]string, bool) {
	v, exists := d.Get(key)
	if !exists || v == nil {
		return nil, exists
	}
	return cast.ToStringMapString(v), true
}

func (d *Data) GetStruct(key string, s any) error {
	v, exists := d.Get(key)
	if !exists {
		return errors.NotFound
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Annotate(err, "marshal failed")
	}
	return json.Unmarshal(b, s)
}

func (d *Data) Set(key string, value any) {
	(*d)[key] = value
}

/**
 * SetPath assigns value under a dotted path, creating intermediate
 * objects as needed. `progress.stems` sets key `stems` of object `progress`.
 */
func (d *Data) SetPath(path string, value any) error {
	parts := strings.Split(path, ".")
	cur := map[string]any(*d)
	for i, part := range parts {
		if part == "" {
			return errors.NotValidf("path %q", path)
		}
		if i == len(parts)-1 {
			cur[part] = value
			return nil
		}
		next, exists := cur[part]
		if !exists || next == nil {
			m := map[string]any{}
			cur[part] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return errors.NotValidf("path %q crosses non-object field %q", path, part)
		}
		cur = m
	}
	return nil
}

// GetPath reads a value under a dotted path.
func (d *Data) GetPath(path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(*d)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Decode converts the document into a typed value through its JSON form.
func (d Data) Decode(o any) error {
	b, err := json.Marshal(d)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(json.Unmarshal(b, o))
}

// ToData converts a typed value into a Data document through its JSON form.
func ToData(o any) (Data, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, errors.Trace(err)
	}
	d := Data{}
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errors.Trace(err)
	}
	return d, nil
}
