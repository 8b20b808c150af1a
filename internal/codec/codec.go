// Package codec is the serialization boundary: it turns records into bytes
// and bytes back into records. The persistence protocol never looks inside
// the bytes it is given.
package codec

import (
	"bytes"
	"encoding"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// ErrDecode is wrapped by every error returned from Unmarshal.
var ErrDecode = errors.New("decode failed")

// ErrUnknownCodec is returned by ByName for unregistered names.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec encodes and decodes arbitrary values.
type Codec interface {
	// Name is the identifier used in configuration ("gob", "json", ...).
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

func init() {
	// Free-form documents carry these dynamic types inside interface values.
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register([]map[string]interface{}{})
	gob.Register(time.Time{})
}

// Gob uses encoding/gob.
type Gob struct{}

func (Gob) Name() string { return "gob" }

func (Gob) Encode(v any) ([]byte, error) {
	var buffer bytes.Buffer
	if err := gob.NewEncoder(&buffer).Encode(v); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (Gob) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// JSON uses encoding/json.
type JSON struct{}

func (JSON) Name() string                    { return "json" }
func (JSON) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (JSON) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

// YAML uses gopkg.in/yaml.v3.
type YAML struct{}

func (YAML) Name() string                    { return "yaml" }
func (YAML) Encode(v any) ([]byte, error)    { return yaml.Marshal(v) }
func (YAML) Decode(data []byte, v any) error { return yaml.Unmarshal(data, v) }

// TOML uses github.com/BurntSushi/toml. The encoded value must be a struct
// or a map, since TOML documents are always tables.
type TOML struct{}

func (TOML) Name() string { return "toml" }

func (TOML) Encode(v any) ([]byte, error) {
	var buffer bytes.Buffer
	if err := toml.NewEncoder(&buffer).Encode(v); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (TOML) Decode(data []byte, v any) error {
	_, err := toml.NewDecoder(bytes.NewReader(data)).Decode(v)
	return err
}

// MsgPack uses github.com/vmihailenco/msgpack/v5.
type MsgPack struct{}

func (MsgPack) Name() string                    { return "msgpack" }
func (MsgPack) Encode(v any) ([]byte, error)    { return msgpack.Marshal(v) }
func (MsgPack) Decode(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

var registry = map[string]Codec{
	"gob":     Gob{},
	"json":    JSON{},
	"yaml":    YAML{},
	"toml":    TOML{},
	"msgpack": MsgPack{},
}

// Default is the codec used when none is configured.
var Default Codec = MsgPack{}

// ByName looks up a codec by its configuration name (case-insensitive).
func ByName(name string) (Codec, error) {
	c, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownCodec, name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names lists the registered codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Marshal encodes v, preferring v's own encoding.BinaryMarshaler when it
// has one.
func Marshal(c Codec, v any) ([]byte, error) {
	if m, ok := v.(encoding.BinaryMarshaler); ok {
		data, err := m.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal binary: %w", err)
		}
		return data, nil
	}
	data, err := c.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("%s encode: %w", c.Name(), err)
	}
	return data, nil
}

// Unmarshal decodes data into v, preferring v's own
// encoding.BinaryUnmarshaler. Empty input is a decode error for every codec,
// including YAML which would otherwise accept it silently.
func Unmarshal(c Codec, data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", ErrDecode)
	}
	if u, ok := v.(encoding.BinaryUnmarshaler); ok {
		if err := u.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("%w: unmarshal binary: %w", ErrDecode, err)
		}
		return nil
	}
	if err := c.Decode(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, c.Name(), err)
	}
	return nil
}

// DeepCopy returns an independent copy of v made by encoding and decoding
// it with c.
func DeepCopy[T any](c Codec, v T) (T, error) {
	var out T
	data, err := Marshal(c, v)
	if err != nil {
		return out, err
	}
	if err := Unmarshal(c, data, &out); err != nil {
		return out, err
	}
	return out, nil
}
