package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// Defaults returns the schemas compiled into the binary.
func Defaults() ([]*Schema, error) {
	return LoadFS(defaultsFS, "defaults")
}

// Decode parses a schema document. The format is chosen by file extension.
func Decode(name string, data []byte) (*Schema, error) {
	var sc Schema
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("unsupported schema file %s", name)
	}
	return &sc, nil
}

// LoadFile reads a single schema file.
func LoadFile(p string) (*Schema, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Decode(p, data)
}

// LoadDir reads every .json, .yaml and .yml file directly under dir.
func LoadDir(dir string) ([]*Schema, error) {
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS reads every schema file directly under dir in fsys.
func LoadFS(fsys fs.FS, dir string) ([]*Schema, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema directory: %w", err)
	}

	var out []*Schema
	for _, e := range entries {
		if e.IsDir() || !IsSchemaFile(e.Name()) {
			continue
		}
		p := path.Join(dir, e.Name())
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		sc, err := Decode(e.Name(), data)
		if err != nil {
			return nil, err
		}
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

func IsSchemaFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return !strings.HasPrefix(filepath.Base(name), ".")
	}
	return false
}

// Merge lays overrides over base: an override replaces the base schema with the same year and type.
func Merge(base, overrides []*Schema) []*Schema {
	idx := make(map[key]int, len(base))
	out := make([]*Schema, 0, len(base)+len(overrides))
	for _, sc := range base {
		idx[key{sc.Year, sc.FilingType}] = len(out)
		out = append(out, sc)
	}
	for _, sc := range overrides {
		k := key{sc.Year, sc.FilingType}
		if i, ok := idx[k]; ok {
			out[i] = sc
			continue
		}
		idx[k] = len(out)
		out = append(out, sc)
	}
	return out
}
