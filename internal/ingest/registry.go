package ingest

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"go.yaml.in/yaml/v3"
)

//go:embed scan_types.yaml
var defaultScanTypes []byte

// ScanType is one entry of the scan-type registry.
type ScanType struct {
	Name         string `yaml:"name"          json:"name"`
	Parser       string `yaml:"parser"        json:"parser,omitempty"`
	RequiresFile bool   `yaml:"requires_file" json:"requires_file"`
}

// Registry looks scan types up by display name.
type Registry struct {
	byName map[string]ScanType
}

type registryFile struct {
	ScanTypes []ScanType `yaml:"scan_types"`
}

// DefaultRegistry returns the embedded registry.
func DefaultRegistry() (*Registry, error) {
	return parseRegistry(defaultScanTypes)
}

// LoadRegistry reads a registry YAML file, falling back to the embedded one
// when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scan types %s: %w", path, err)
	}
	return parseRegistry(data)
}

func parseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing scan types: %w", err)
	}
	r := &Registry{byName: make(map[string]ScanType, len(f.ScanTypes))}
	for _, st := range f.ScanTypes {
		if st.Name == "" {
			return nil, fmt.Errorf("parsing scan types: entry without a name")
		}
		if _, dup := r.byName[st.Name]; dup {
			return nil, fmt.Errorf("parsing scan types: %q listed twice", st.Name)
		}
		r.byName[st.Name] = st
	}
	return r, nil
}

// Lookup returns the scan type named name.
func (r *Registry) Lookup(name string) (ScanType, bool) {
	st, ok := r.byName[name]
	return st, ok
}

// RequiresFile reports whether an import of scanType needs a report file.
// Unknown types are treated as file based.
func (r *Registry) RequiresFile(scanType string) bool {
	st, ok := r.byName[scanType]
	return !ok || st.RequiresFile
}

// All returns every registered type sorted by name.
func (r *Registry) All() []ScanType {
	out := make([]ScanType, 0, len(r.byName))
	for _, st := range r.byName {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
