package app

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestReadManifest(t *testing.T) {
	content := `{
  "vendor": {"js": "/static/dist/assets/vendor-1a2b.js"},
  "main": {"js": "/static/dist/assets/main-3c4d.js", "css": "/static/dist/assets/main-3c4d.css"},
  "icons": ["/static/dist/assets/a.svg", "/static/dist/assets/b.svg"],
  "runtime": "/static/dist/assets/runtime.js",
  "empty": {}
}`
	p := filepath.Join(t.TempDir(), "webpack-assets.json")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	got, err := ReadManifest(p)
	if err != nil {
		t.Fatalf("ReadManifest error = %v", err)
	}

	want := []ManifestEntry{
		{Name: "empty"},
		{Name: "icons", Files: []string{"/static/dist/assets/a.svg", "/static/dist/assets/b.svg"}},
		{Name: "main", Files: []string{"/static/dist/assets/main-3c4d.js", "/static/dist/assets/main-3c4d.css"}},
		{Name: "runtime", Files: []string{"/static/dist/assets/runtime.js"}},
		{Name: "vendor", Files: []string{"/static/dist/assets/vendor-1a2b.js"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadManifest = %+v, want %+v", got, want)
	}
}

func TestReadManifest_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadManifest(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing manifest error = %v, want ErrNotExist", err)
	}

	for name, content := range map[string]string{
		"truncated.json": `{"main": `,
		"array.json":     `["main.js"]`,
	} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile error = %v", err)
		}
		if _, err := ReadManifest(p); !errors.Is(err, ErrManifest) {
			t.Errorf("%s: error = %v, want ErrManifest", name, err)
		}
	}
}
