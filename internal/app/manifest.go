package app

import (
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/gjson"
)

// ManifestEntry is one bundle of the asset manifest written by the bundler.
type ManifestEntry struct {
	Name  string
	Files []string
}

// ReadManifest parses an asset manifest. Entries map a bundle name to a
// file, a list of files, or an object of files keyed by type:
//
//	{"main": {"js": "/static/dist/assets/main.js", "css": "..."}}
//
// Entries are sorted by name; files keep their manifest order.
func ReadManifest(path string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &OperationError{Op: "read manifest", Target: path, Err: err}
	}
	if !gjson.ValidBytes(data) {
		return nil, &OperationError{Op: "read manifest", Target: path, Err: fmt.Errorf("%w: not valid JSON", ErrManifest)}
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, &OperationError{Op: "read manifest", Target: path, Err: fmt.Errorf("%w: top level is not an object", ErrManifest)}
	}

	var entries []ManifestEntry
	doc.ForEach(func(key, value gjson.Result) bool {
		entries = append(entries, ManifestEntry{Name: key.String(), Files: manifestFiles(value)})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func manifestFiles(v gjson.Result) []string {
	switch {
	case v.IsArray() || v.IsObject():
		var files []string
		v.ForEach(func(_, item gjson.Result) bool {
			files = append(files, manifestFiles(item)...)
			return true
		})
		return files
	case v.Type == gjson.String && v.String() != "":
		return []string{v.String()}
	default:
		return nil
	}
}
