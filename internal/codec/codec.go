// Package codec turns store snapshots into stored strings and back.
//
// Stored payloads are wrapped in a version envelope:
//
//	{"version":N,"data":{...snapshot...}}
//
// A payload without the envelope is a version 0 payload. Older payloads are
// upgraded by jq migrations before decoding. Decoding is lenient per record:
// an element of a slice or map field that fails to decode is dropped, and a
// scalar field that fails keeps its default, without affecting siblings.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Validator is implemented by records that reject themselves after decoding,
// for example when a required id is missing.
type Validator interface {
	Validate() error
}

// Codec encodes and decodes snapshots of type S, which must be a struct.
type Codec[S any] struct {
	version    int
	defaults   func() S
	migrations map[int]*compiled
}

type envelope[S any] struct {
	Version int `json:"version"`
	Data    S   `json:"data"`
}

// New returns a codec writing version and able to upgrade any older version
// covered by migrations. defaults supplies the starting value for decoding.
func New[S any](version int, defaults func() S, migrations ...Migration) (*Codec[S], error) {
	c := &Codec[S]{version: version, defaults: defaults, migrations: map[int]*compiled{}}
	for _, m := range migrations {
		code, err := m.compile()
		if err != nil {
			return nil, err
		}
		c.migrations[m.From] = code
	}
	for v := 0; v < version; v++ {
		if _, ok := c.migrations[v]; !ok && v > 0 {
			return nil, fmt.Errorf("codec: no migration from version %d", v)
		}
	}
	return c, nil
}

// MustNew is New for package-level codecs with static migrations.
func MustNew[S any](version int, defaults func() S, migrations ...Migration) *Codec[S] {
	c, err := New(version, defaults, migrations...)
	if err != nil {
		panic(err)
	}
	return c
}

// Version returns the version written by Encode.
func (c *Codec[S]) Version() int { return c.version }

// Defaults returns a fresh default snapshot.
func (c *Codec[S]) Defaults() S { return c.defaults() }

// Encode serializes s inside the version envelope.
func (c *Codec[S]) Encode(s S) (string, error) {
	b, err := json.Marshal(envelope[S]{Version: c.version, Data: s})
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(b), nil
}

// Upgrade rewrites raw at the current version. It reports whether the
// payload changed, which happens for older versions and dropped records.
func (c *Codec[S]) Upgrade(raw string) (string, bool, error) {
	res := c.Decode(raw)
	value, err := res.Get()
	if err != nil {
		return raw, false, err
	}
	if res.FromVersion == c.version && res.Dropped == 0 {
		return raw, false, nil
	}
	out, err := c.Encode(value)
	if err != nil {
		return raw, false, err
	}
	return out, true, nil
}

// Decode parses raw into a snapshot. It never panics.
func (c *Codec[S]) Decode(raw string) (res Result[S]) {
	defer func() {
		if p := recover(); p != nil {
			res = Fail[S](ReasonShape, fmt.Errorf("panic: %v", p))
		}
	}()

	version, data, err := unwrap([]byte(raw))
	if err != nil {
		return Fail[S](ReasonSyntax, err)
	}
	if version > c.version {
		return Fail[S](ReasonVersion, fmt.Errorf("payload version %d is newer than %d", version, c.version))
	}
	if version < c.version {
		data, err = c.migrate(version, data)
		if err != nil {
			return Fail[S](ReasonMigration, err)
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Fail[S](ReasonShape, err)
	}
	out := c.defaults()
	rv := reflect.ValueOf(&out).Elem()
	if rv.Kind() != reflect.Struct {
		return Fail[S](ReasonShape, fmt.Errorf("snapshot type %s is not a struct", rv.Type()))
	}
	dropped := decodeFields(rv, fields)
	res = Ok(out)
	res.Dropped = dropped
	res.FromVersion = version
	return res
}

// unwrap splits the version envelope. Payloads that are not an envelope are
// version 0 and returned whole.
func unwrap(raw []byte) (int, json.RawMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		if !json.Valid(raw) {
			return 0, nil, err
		}
		return 0, raw, nil
	}
	rawVersion, hasVersion := probe["version"]
	data, hasData := probe["data"]
	if !hasVersion || !hasData || len(probe) != 2 {
		return 0, raw, nil
	}
	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil || version < 0 {
		return 0, raw, nil
	}
	return version, data, nil
}

func decodeFields(rv reflect.Value, fields map[string]json.RawMessage) int {
	dropped := 0
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := jsonName(sf)
		if name == "-" {
			continue
		}
		raw, ok := fields[name]
		if !ok {
			continue
		}
		fv := rv.Field(i)
		switch {
		case fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() != reflect.Uint8:
			dropped += decodeSlice(fv, raw)
		case fv.Kind() == reflect.Map && fv.Type().Key().Kind() == reflect.String:
			dropped += decodeMap(fv, raw)
		default:
			ptr := reflect.New(fv.Type())
			if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
				dropped++
				continue
			}
			fv.Set(ptr.Elem())
		}
	}
	return dropped
}

func decodeSlice(fv reflect.Value, raw json.RawMessage) int {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return 1
	}
	dropped := 0
	out := reflect.MakeSlice(fv.Type(), 0, len(elems))
	for _, e := range elems {
		ptr := reflect.New(fv.Type().Elem())
		if !decodeRecord(e, ptr) {
			dropped++
			continue
		}
		out = reflect.Append(out, ptr.Elem())
	}
	fv.Set(out)
	return dropped
}

func decodeMap(fv reflect.Value, raw json.RawMessage) int {
	var elems map[string]json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return 1
	}
	dropped := 0
	out := reflect.MakeMapWithSize(fv.Type(), len(elems))
	for k, e := range elems {
		ptr := reflect.New(fv.Type().Elem())
		if !decodeRecord(e, ptr) {
			dropped++
			continue
		}
		out.SetMapIndex(reflect.ValueOf(k).Convert(fv.Type().Key()), ptr.Elem())
	}
	fv.Set(out)
	return dropped
}

func decodeRecord(raw json.RawMessage, ptr reflect.Value) bool {
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return false
	}
	if v, ok := ptr.Interface().(Validator); ok {
		return v.Validate() == nil
	}
	if v, ok := ptr.Elem().Interface().(Validator); ok {
		return v.Validate() == nil
	}
	return true
}

func jsonName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if tag == "" {
		return sf.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return sf.Name
	}
	return name
}
