package filters

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Registry is the mapping from filter name to Definition. It is
// read-mostly and swapped atomically on reload (spec.md §5).
type Registry struct {
	defs map[string]Definition
}

// Get looks up a filter definition by name.
func (r *Registry) Get(name string) (Definition, error) {
	if r == nil {
		return Definition{}, configErr("get", fmt.Errorf("%w: %s (registry not loaded)", ErrUnknownFilter, name))
	}
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, configErr("get", fmt.Errorf("%w: %s", ErrUnknownFilter, name))
	}
	return d, nil
}

// Names returns every loaded filter name, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	return names
}

// Load scans one or more directory globs (doublestar patterns, e.g.
// "filters/**/*.json") for descriptor files and parses each into a
// Definition. Parse errors are non-fatal: the offending file is skipped
// and a warning is returned alongside the successfully loaded set
// (spec.md §4.A: "Parse errors are non-fatal: warn and skip that file").
func Load(patterns ...string) (*Registry, []string, error) {
	defs := map[string]Definition{}
	var warnings []string

	seen := map[string]bool{}
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, warnings, fmt.Errorf("load filters: bad glob %q: %w", pattern, err)
		}
		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true

			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".json" && ext != ".yaml" && ext != ".yml" {
				continue
			}

			data, err := os.ReadFile(path)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			stem := strings.TrimSuffix(filepath.Base(path), ext)
			def, err := ParseDescriptor(data, ext != ".json", stem, filepath.Dir(path))
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			if _, dup := defs[def.Name]; dup {
				warnings = append(warnings, fmt.Sprintf("%s: duplicate filter name %q, keeping first", path, def.Name))
				continue
			}
			defs[def.Name] = def
		}
	}

	return &Registry{defs: defs}, warnings, nil
}

// activeRegistry is the process-wide installed registry, swapped
// atomically by SetActive (spec.md §5: "Filter registry is read-mostly;
// atomic swap on reload").
var activeRegistry atomic.Value // holds *Registry

// SetActive installs r as the active registry used by pipeline
// validation and command synthesis.
func SetActive(r *Registry) { activeRegistry.Store(r) }

// Active returns the currently installed registry, or an empty registry
// if none has been installed yet.
func Active() *Registry {
	v, _ := activeRegistry.Load().(*Registry)
	if v == nil {
		return &Registry{defs: map[string]Definition{}}
	}
	return v
}

// Watcher hot-reloads the active registry when the watched directories
// change, per SPEC_FULL's §4.A "Hot reload" addition. It is an optional
// convenience: callers that only need load+SetActive once don't need it.
type Watcher struct {
	fsw      *fsnotify.Watcher
	patterns []string
	onReload func(*Registry, []string)
	done     chan struct{}
}

// Watch starts watching dir (non-recursively; add each subdirectory you
// want covered) and reloads patterns into the active registry whenever a
// file inside dir changes. onReload, if non-nil, is called with the
// result of every reload (including its warnings).
func Watch(dir string, patterns []string, onReload func(*Registry, []string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch filters: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch filters: %w", err)
	}

	w := &Watcher{fsw: fsw, patterns: patterns, onReload: onReload, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			reg, warnings, err := Load(w.patterns...)
			if err != nil {
				continue
			}
			SetActive(reg)
			if w.onReload != nil {
				w.onReload(reg, warnings)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine and releases the underlying
// filesystem watch.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
