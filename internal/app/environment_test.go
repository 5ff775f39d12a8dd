package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colorseasons/buildpipe/internal/config"
	"github.com/colorseasons/buildpipe/internal/integration/process"
)

func writePackageJSON(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "package.json")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	return p
}

func TestNodePin(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"plain", `{"name": "color_seasons", "engines": {"node": "18.17.1"}}`, "18.17.1", false},
		{"v prefix", `{"engines": {"node": "v18.17.1"}}`, "18.17.1", false},
		{"no engines", `{"name": "color_seasons"}`, "", true},
		{"empty pin", `{"engines": {"node": ""}}`, "", true},
		{"invalid json", `{"engines": `, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NodePin(writePackageJSON(t, t.TempDir(), tt.content))
			if (err != nil) != tt.wantErr {
				t.Fatalf("NodePin error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrEnvironment) {
				t.Errorf("error = %v, want ErrEnvironment", err)
			}
			if got != tt.want {
				t.Errorf("NodePin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNodePin_Missing(t *testing.T) {
	_, err := NodePin(filepath.Join(t.TempDir(), "package.json"))
	if !errors.Is(err, ErrEnvironment) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want ErrEnvironment wrapping ErrNotExist", err)
	}
}

func newEnvRunner() *process.Runner {
	return process.NewRunner(process.NewSupervisor(),
		process.WithLogger(slog.New(slog.DiscardHandler)),
		process.WithAlerter(process.AlertFunc(func(string) {})))
}

func TestCheckNode(t *testing.T) {
	tests := []struct {
		name    string
		node    config.Command
		wantErr bool
	}{
		{"matching version", config.Command{"sh", "-c", "echo v18.17.1", "node"}, false},
		{"other version", config.Command{"sh", "-c", "echo v20.1.0", "node"}, true},
		{"range is not a match", config.Command{"sh", "-c", "echo v18.17.10", "node"}, true},
		{"node fails", config.Command{"false"}, true},
		{"node missing", config.Command{"buildpipe-no-such-node"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Root = t.TempDir()
			cfg.Tools.Node = tt.node
			writePackageJSON(t, cfg.Root, `{"engines": {"node": "18.17.1"}}`)

			err := CheckNode(context.Background(), newEnvRunner(), cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckNode error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrEnvironment) {
				t.Errorf("error = %v, want ErrEnvironment", err)
			}
			if !strings.Contains(err.Error(), "You are not running node v18.17.1") {
				t.Errorf("error = %q, want advice naming the pinned version", err)
			}
			if !strings.Contains(err.Error(), filepath.Join(cfg.Root, "bin")) {
				t.Errorf("error = %q, want advice naming %s", err, filepath.Join(cfg.Root, "bin"))
			}
			if ExitCode(err) != ExitConfig {
				t.Errorf("ExitCode = %d, want %d", ExitCode(err), ExitConfig)
			}
		})
	}
}

func TestCheckNode_Skip(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Environment.SkipNodeCheck = true
	cfg.Tools.Node = config.Command{"false"}

	if err := CheckNode(context.Background(), newEnvRunner(), cfg); err != nil {
		t.Errorf("CheckNode with skip = %v, want nil", err)
	}
}
