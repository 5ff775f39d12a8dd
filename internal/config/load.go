package config

import (
	"fmt"
	"path/filepath"

	"github.com/colorseasons/buildpipe/internal/config/loader"
)

// DefaultFiles are the configuration file names probed at the workspace
// root, in order. The first one found is loaded.
var DefaultFiles = []string{"buildpipe.toml", "buildpipe.yaml", "buildpipe.yml"}

// Environment variables applied after the configuration file.
const (
	EnvLogLevel      = "BUILDPIPE_LOG_LEVEL"
	EnvShutdownGrace = "BUILDPIPE_SHUTDOWN_GRACE"
	EnvSkipNodeCheck = "BUILDPIPE_SKIP_NODE_CHECK"
	EnvNoColor       = "NO_COLOR"
	EnvNodeEnv       = "NODE_ENV"
	EnvAssetsJSONDir = "TD_ASSETS_JSON_DIR"
)

type loadOptions struct {
	file   string
	fs     loader.FileSystem
	lookup func(string) (string, bool)
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithFile loads path instead of probing DefaultFiles. A relative path is
// resolved against the workspace root. The file must exist.
func WithFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.file = path
	}
}

// WithFS sets the file system used to read configuration files.
func WithFS(fsys loader.FileSystem) LoadOption {
	return func(o *loadOptions) {
		o.fs = fsys
	}
}

// WithLookup sets the environment lookup function. Defaults to os.LookupEnv.
func WithLookup(lookup func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) {
		o.lookup = lookup
	}
}

// Load builds the configuration for the workspace at root: defaults, then
// the configuration file, then the environment. The result is validated.
func Load(root string, opts ...LoadOption) (*Config, error) {
	o := loadOptions{fs: loader.DefaultFS()}
	for _, opt := range opts {
		opt(&o)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace %s: %w", root, err)
	}

	cfg := Default()
	cfg.Root = absRoot

	if err := cfg.loadFile(o); err != nil {
		return nil, err
	}

	env := loader.NewEnvLoader()
	if o.lookup != nil {
		env = loader.NewEnvLoaderWithLookup(o.lookup)
	}
	if _, err := env.LoadDotEnv(o.fs, filepath.Join(absRoot, ".env")); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return nil, err
	}
	cfg.Env = env.DotEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(o loadOptions) error {
	if o.file != "" {
		path := c.Abs(o.file)
		l, err := loader.ForFile(o.fs, path)
		if err != nil {
			return err
		}
		found, err := l.LoadInto(c)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: %w", path, ErrFileNotFound)
		}
		c.File = path
		return nil
	}

	for _, name := range DefaultFiles {
		l, err := loader.ForFile(o.fs, filepath.Join(c.Root, name))
		if err != nil {
			return err
		}
		found, err := l.LoadInto(c)
		if err != nil {
			return err
		}
		if found {
			c.File = l.Path()
			return nil
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto the configuration.
func (c *Config) ApplyEnv(env *loader.EnvLoader) error {
	if v, ok := env.Lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := env.Lookup(EnvShutdownGrace); ok && v != "" {
		if err := c.Shutdown.Grace.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", EnvShutdownGrace, err)
		}
	}
	if v, ok := env.Lookup(EnvSkipNodeCheck); ok {
		b, err := loader.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSkipNodeCheck, err)
		}
		c.Environment.SkipNodeCheck = b
	}
	if _, ok := env.Lookup(EnvNoColor); ok {
		c.Logging.NoColor = true
	}
	if v, ok := env.Lookup(EnvNodeEnv); ok {
		c.Bundle.Production = v == "production"
	}
	if v, ok := env.Lookup(EnvAssetsJSONDir); ok && v != "" {
		c.Bundle.AssetsJSONDir = v
	}
	return nil
}
