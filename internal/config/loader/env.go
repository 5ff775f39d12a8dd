package loader

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvLoader looks up environment variables. Variables from the process
// environment take precedence over those read from a .env file.
type EnvLoader struct {
	lookup func(string) (string, bool)
	dotenv map[string]string
}

// NewEnvLoader creates a loader over the process environment.
func NewEnvLoader() *EnvLoader {
	return NewEnvLoaderWithLookup(os.LookupEnv)
}

// NewEnvLoaderWithLookup creates a loader with a custom lookup function.
func NewEnvLoaderWithLookup(lookup func(string) (string, bool)) *EnvLoader {
	return &EnvLoader{
		lookup: lookup,
		dotenv: make(map[string]string),
	}
}

// LoadDotEnv reads KEY=value pairs from a .env file. A missing file is not
// an error. Returns the number of variables read.
func (l *EnvLoader) LoadDotEnv(fsys FileSystem, path string) (int, error) {
	data, found, err := readFile(fsys, path)
	if err != nil || !found {
		return 0, err
	}

	vars, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		return 0, &ParseError{Path: path, Line: lineOf(err.Error()), Message: err.Error(), Err: err}
	}
	for k, v := range vars {
		l.dotenv[k] = v
	}
	return len(vars), nil
}

// DotEnv returns a copy of the variables read from .env files.
func (l *EnvLoader) DotEnv() map[string]string {
	out := make(map[string]string, len(l.dotenv))
	for k, v := range l.dotenv {
		out[k] = v
	}
	return out
}

// Lookup returns the value of key from the process environment, falling
// back to the .env file. Empty values count as set.
func (l *EnvLoader) Lookup(key string) (string, bool) {
	if v, ok := l.lookup(key); ok {
		return v, true
	}
	v, ok := l.dotenv[key]
	return v, ok
}

// Get returns the value of key, or "" if unset.
func (l *EnvLoader) Get(key string) string {
	v, _ := l.Lookup(key)
	return v
}

// ParseBool accepts the usual spellings of true and false:
// true/false, yes/no, on/off and 1/0, in any case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0", "":
		return false, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
