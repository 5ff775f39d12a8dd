package loader

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct {
	fs   FileSystem
	path string
}

// NewYAMLLoader creates a new YAML loader for the given path.
func NewYAMLLoader(path string) *YAMLLoader {
	return NewYAMLLoaderWithFS(DefaultFS(), path)
}

// NewYAMLLoaderWithFS creates a YAML loader with a custom file system.
func NewYAMLLoaderWithFS(fs FileSystem, path string) *YAMLLoader {
	return &YAMLLoader{fs: fs, path: path}
}

// Path returns the file path.
func (l *YAMLLoader) Path() string { return l.path }

// LoadInto decodes the file into v. An empty file leaves v unchanged.
func (l *YAMLLoader) LoadInto(v any) (bool, error) {
	data, found, err := readFile(l.fs, l.path)
	if err != nil || !found {
		return found, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return true, newYAMLParseError(l.path, err)
	}
	return true, nil
}

// ValidateYAML reports whether data is well-formed YAML, as a *ParseError
// naming path.
func ValidateYAML(path string, data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return newYAMLParseError(path, err)
	}
	return nil
}

func newYAMLParseError(path string, err error) *ParseError {
	msg := err.Error()
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		msg = strings.Join(typeErr.Errors, "; ")
	}
	msg = strings.TrimPrefix(msg, "yaml: ")
	return &ParseError{Path: path, Line: lineOf(msg), Message: msg, Err: err}
}
