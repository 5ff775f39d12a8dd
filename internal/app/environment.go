package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/colorseasons/buildpipe/internal/config"
	"github.com/colorseasons/buildpipe/internal/integration/process"
)

// NodePin reads the engines.node version pin from a package.json file.
func NodePin(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &OperationError{Op: "read", Target: path, Err: fmt.Errorf("%w: %w", ErrEnvironment, err)}
	}
	if !gjson.ValidBytes(data) {
		return "", &OperationError{Op: "parse", Target: path, Err: fmt.Errorf("%w: not valid JSON", ErrEnvironment)}
	}
	pin := gjson.GetBytes(data, "engines.node")
	if !pin.Exists() || pin.String() == "" {
		return "", &OperationError{Op: "parse", Target: path, Err: fmt.Errorf("%w: no engines.node version", ErrEnvironment)}
	}
	return strings.TrimPrefix(strings.TrimSpace(pin.String()), "v"), nil
}

// CheckNode verifies that the node on $PATH is exactly the pinned version.
// The pin is compared verbatim with `node --version` after adding the "v"
// prefix; ranges are not supported.
func CheckNode(ctx context.Context, r *process.Runner, cfg *config.Config) error {
	if cfg.Environment.SkipNodeCheck {
		return nil
	}

	want, err := NodePin(cfg.Abs(cfg.Environment.PackageJSON))
	if err != nil {
		return err
	}
	want = "v" + want

	node := cfg.Tools.Node
	got, err := r.Output(ctx, node.Name(), append(node.Args(), "--version")...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil || got != want {
		return &OperationError{
			Op:  "check node",
			Err: fmt.Errorf("%w: %s", ErrEnvironment, nodeAdvice(want, cfg.Root)),
		}
	}
	return nil
}

func nodeAdvice(want, root string) string {
	return fmt.Sprintf("You are not running node %s. Make sure that you've run bin/unpack-node and that your $PATH includes %s",
		want, filepath.Join(root, "bin"))
}
