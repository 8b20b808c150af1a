// Package document provides a free-form record parsed from YAML, JSON or
// TOML files, used by the CLI to save arbitrary data.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/stackvity/localsave/internal/filesystem"
)

// ErrUnsupportedFormat is returned for input files whose extension has no parser.
var ErrUnsupportedFormat = errors.New("unsupported input format")

var parsers = map[string]func([]byte, *map[string]interface{}) error{
	".yaml": func(data []byte, out *map[string]interface{}) error { return yaml.Unmarshal(data, out) },
	".yml":  func(data []byte, out *map[string]interface{}) error { return yaml.Unmarshal(data, out) },
	".json": func(data []byte, out *map[string]interface{}) error {
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		return decoder.Decode(out)
	},
	".toml": func(data []byte, out *map[string]interface{}) error {
		_, err := toml.Decode(string(data), out)
		return err
	},
}

// Document is a named bag of data. It satisfies localsave.Record by value
// and by pointer.
type Document struct {
	Directory string                 `json:"directory" yaml:"directory" toml:"directory" msgpack:"directory"`
	File      string                 `json:"file" yaml:"file" toml:"file" msgpack:"file"`
	Data      map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty" toml:"data,omitempty" msgpack:"data,omitempty"`
}

func (d Document) DirectoryName() string { return d.Directory }
func (d Document) FileName() string      { return d.File }

// Supported reports whether name has an extension Parse understands.
func Supported(name string) bool {
	_, ok := parsers[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Parse decodes data according to the extension of name. Empty input
// yields an empty map.
func Parse(name string, data []byte) (map[string]interface{}, error) {
	ext := strings.ToLower(filepath.Ext(name))
	parse, ok := parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, name)
	}

	out := make(map[string]interface{})
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := parse(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse '%s': %w", name, err)
	}
	if out == nil {
		// A YAML "null" document.
		out = make(map[string]interface{})
	}
	return normalize(out).(map[string]interface{}), nil
}

// FromFile reads and parses path into a Document. An empty fileName
// defaults to the input's base name without its extension.
func FromFile(fsys filesystem.FileSystem, path, directoryName, fileName string) (*Document, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input '%s': %w", path, err)
	}
	parsed, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	if fileName == "" {
		fileName = BaseName(path)
	}
	return &Document{Directory: directoryName, File: fileName, Data: parsed}, nil
}

// BaseName strips the directory and extension from path.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// normalize converts json.Number to int64 or float64 so every parser hands
// back the same scalar types.
func normalize(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		for k, item := range value {
			value[k] = normalize(item)
		}
		return value
	case []interface{}:
		for i, item := range value {
			value[i] = normalize(item)
		}
		return value
	case []map[string]interface{}:
		items := make([]interface{}, len(value))
		for i, item := range value {
			items[i] = normalize(item)
		}
		return items
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i
		}
		if f, err := value.Float64(); err == nil {
			return f
		}
		return value.String()
	case int:
		return int64(value)
	default:
		return v
	}
}
