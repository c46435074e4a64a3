package work

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads, parses, and validates a work YAML file from disk.
func Load(path string) (*Work, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("work: open %q: %w", path, err)
	}
	defer f.Close()

	w, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("work: load %q: %w", path, err)
	}
	return w, nil
}

// LoadFromReader parses and validates work YAML from an [io.Reader]. The
// reader is consumed entirely; the caller is responsible for closing it.
func LoadFromReader(r io.Reader) (*Work, error) {
	var w Work
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch authoring typos
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("work: decode yaml: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Library is an in-memory catalogue of loaded works, keyed by work ID.
type Library struct {
	works map[string]*Work
}

// NewLibrary builds a [Library] from already loaded works. Duplicate IDs are
// rejected.
func NewLibrary(works ...*Work) (*Library, error) {
	lib := &Library{works: make(map[string]*Work, len(works))}
	for _, w := range works {
		if _, ok := lib.works[w.ID]; ok {
			return nil, fmt.Errorf("work: duplicate work id %q", w.ID)
		}
		lib.works[w.ID] = w
	}
	return lib, nil
}

// LoadLibrary loads every .yaml/.yml file in dir (non-recursive) into a
// [Library]. A single invalid file fails the whole load so a bad deploy is
// caught at startup rather than mid-session.
func LoadLibrary(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("work: read library dir %q: %w", dir, err)
	}

	var works []*Work
	for _, e := range entries {
		if e.IsDir() || !isYAML(e) {
			continue
		}
		w, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		works = append(works, w)
	}
	return NewLibrary(works...)
}

func isYAML(e fs.DirEntry) bool {
	ext := strings.ToLower(filepath.Ext(e.Name()))
	return ext == ".yaml" || ext == ".yml"
}

// Get returns the work with the given ID, or nil when unknown.
func (l *Library) Get(id string) *Work {
	return l.works[id]
}

// IDs returns the IDs of all loaded works in sorted order.
func (l *Library) IDs() []string {
	out := make([]string, 0, len(l.works))
	for id := range l.works {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
