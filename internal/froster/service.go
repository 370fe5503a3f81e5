package froster

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Service is the orchestration layer that runs the archive, restore,
// delete, and mount lifecycles against a configured target. It holds
// no state of its own: everything durable lives in the catalog, the
// folder artifacts, and the object store.
type Service struct {
	store   ObjectStore
	catalog Catalog
	target  Target
	logger  Logger
	clock   Clock
	console io.Writer
	cores   int
	user    string
}

// NewService creates a Service with the provided dependencies.
// console receives the user-facing phase headers and step bullets;
// pass io.Discard when running headless.
func NewService(store ObjectStore, catalog Catalog, target Target, logger Logger, clock Clock, console io.Writer, cores int, user string) *Service {
	if console == nil {
		console = io.Discard
	}
	return &Service{
		store:   store,
		catalog: catalog,
		target:  target,
		logger:  logger,
		clock:   clock,
		console: console,
		cores:   cores,
		user:    user,
	}
}

// Catalog exposes the service's catalog for read-only callers.
func (s *Service) Catalog() Catalog { return s.catalog }

// Target exposes the configured archive target.
func (s *Service) Target() Target { return s.target }

// CanonicalFolder resolves a folder argument to its canonical absolute
// path: symlinks resolved, no trailing separator. The path must be an
// existing directory.
func CanonicalFolder(raw string) (string, error) {
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %v", ErrLocalFS, raw, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %v", ErrLocalFS, raw, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrLocalFS, raw, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: not a directory: %s", ErrLocalFS, raw)
	}
	if resolved != "/" {
		resolved = strings.TrimSuffix(resolved, string(filepath.Separator))
	}
	return resolved, nil
}

// CheckOverlap rejects folder sets containing ancestor/descendant
// pairs. Such a set would archive the same files twice and produce
// shadowed catalog entries.
func CheckOverlap(folders []string) error {
	for i, a := range folders {
		for j, b := range folders {
			if i == j {
				continue
			}
			if a == b || strings.HasPrefix(b, a+string(filepath.Separator)) {
				return fmt.Errorf("%w: %s and %s overlap", ErrConflict, a, b)
			}
		}
	}
	return nil
}

// subfolders returns folder itself plus, when recursive, every
// directory below it, top-down. Symlinked directories are not
// followed.
func subfolders(folder string, recursive bool) ([]string, error) {
	if !recursive {
		return []string{folder}, nil
	}
	var dirs []string
	err := filepath.WalkDir(folder, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %s: %v", ErrLocalFS, folder, err)
	}
	sort.Strings(dirs) // top-down: parents sort before children
	return dirs, nil
}

// regularFiles lists the regular files directly inside folder, sorted.
func regularFiles(folder string) ([]string, error) {
	dirents, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrLocalFS, folder, err)
	}
	var names []string
	for _, d := range dirents {
		if d.Type().IsRegular() {
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// fileExists reports whether path exists (any type).
func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// step prints a user-facing step bullet to the console.
func (s *Service) step(format string, args ...any) {
	fmt.Fprintf(s.console, "  "+format+"\n", args...)
}

// phase prints a user-facing phase header to the console.
func (s *Service) phase(format string, args ...any) {
	fmt.Fprintf(s.console, format+"\n", args...)
}
