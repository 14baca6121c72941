package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk shape of one YAML config file: a top-level
// "services" list, matching the teacher's own single-key-list config
// documents.
type fileDocument struct {
	Services []ServiceDefinition `yaml:"services"`
}

// Loader reads ServiceDefinition records from a YAML file or directory.
type Loader struct {
	path string
}

// NewLoader creates a Loader rooted at path, which may be a single YAML
// file or a directory of *.yaml/*.yml files.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load reads and validates the full set of service definitions. Services
// must have unique names; validation failures abort the whole load (the
// caller maps this to a fatal startup error or a rejected reload).
func (l *Loader) Load() ([]ServiceDefinition, error) {
	files, err := l.resolveFiles()
	if err != nil {
		return nil, err
	}

	var all []ServiceDefinition
	seen := make(map[string]string) // name -> file it was first seen in

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}

		var doc fileDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f, err)
		}

		for _, svc := range doc.Services {
			if err := svc.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", f, err)
			}
			if prior, ok := seen[svc.Name]; ok {
				return nil, fmt.Errorf("%s: duplicate service name %q (already defined in %s)", f, svc.Name, prior)
			}
			seen[svc.Name] = f
			all = append(all, svc)
		}
	}

	return all, nil
}

func (l *Loader) resolveFiles() ([]string, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", l.path, err)
	}

	if !info.IsDir() {
		return []string{l.path}, nil
	}

	entries, err := os.ReadDir(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading dir %s: %w", l.path, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(l.path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
