// Package discovery implements the Discovery Walker (spec.md §4.B): it
// traverses a set of root paths, applies include/exclude glob filters,
// feeds each candidate Python file to the AST Collector, and produces a
// deduplicated, deterministically ordered Item Set.
//
// Exclusion/inclusion matching follows the same doublestar.Match
// fast-path-then-glob shape a multi-language symbol scanner would use,
// generalized here to the single-extension test-discovery walk spec.md
// §4.B describes.
package discovery

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	runnererrors "github.com/standardbeagle/taut/internal/errors"
	"github.com/standardbeagle/taut/internal/parser"
	"github.com/standardbeagle/taut/internal/types"
)

// DefaultExcludes mirrors the build-artifact directories a Python project
// typically produces, applied here as directory-skip globs during the walk.
var DefaultExcludes = []string{
	"**/.git/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/venv/**",
	"**/.tox/**",
	"**/build/**",
	"**/dist/**",
	"**/*.egg-info/**",
	"**/.pytest_cache/**",
	"**/.mypy_cache/**",
	"**/node_modules/**",
}

// Walker traverses roots and produces candidate test items.
type Walker struct {
	Collector *parser.Collector
	// Include, if non-empty, restricts the walk to files whose
	// root-relative path matches at least one of these doublestar globs.
	Include []string
	// Exclude skips any file or directory whose root-relative path matches
	// one of these doublestar globs. NewWalker sets it to DefaultExcludes;
	// Walk applies it as given, so a nil Exclude skips only hidden
	// directories.
	Exclude []string
}

// NewWalker returns a Walker with spec.md §4.B's default exclusions.
func NewWalker() *Walker {
	return &Walker{
		Collector: parser.NewCollector(),
		Exclude:   DefaultExcludes,
	}
}

// Walk traverses every root recursively, collecting test items from every
// matching file. It never aborts on a single file's failure: unreadable or
// unparsable files degrade to a DiscoveryWarning. The returned items are
// deduplicated by identity and sorted per spec.md §4.B.
func (w *Walker) Walk(roots []string) ([]types.TestItem, []runnererrors.DiscoveryWarning) {
	seen := make(map[uint64]bool)
	var items []types.TestItem
	var warnings []runnererrors.DiscoveryWarning

	for _, root := range roots {
		root := root
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				warnings = append(warnings, runnererrors.DiscoveryWarning{
					File: path, Message: "walk error: " + err.Error(),
				})
				return nil
			}

			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if path != root && isHidden(d.Name()) {
					return filepath.SkipDir
				}
				if rel != "." && w.matchesAny(w.Exclude, rel) {
					return filepath.SkipDir
				}
				return nil
			}

			if !isTestFileName(d.Name()) {
				return nil
			}
			if w.matchesAny(w.Exclude, rel) {
				return nil
			}
			if len(w.Include) > 0 && !w.matchesAny(w.Include, rel) {
				return nil
			}

			found, fileWarnings := w.collectFile(path)
			warnings = append(warnings, fileWarnings...)
			for _, item := range found {
				key := item.Key()
				if seen[key] {
					continue
				}
				seen[key] = true
				items = append(items, item)
			}
			return nil
		})
		if err != nil {
			warnings = append(warnings, runnererrors.DiscoveryWarning{
				File: root, Message: "failed to walk root: " + err.Error(),
			})
		}
	}

	types.SortItems(items)
	return items, warnings
}

func (w *Walker) collectFile(path string) ([]types.TestItem, []runnererrors.DiscoveryWarning) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, []runnererrors.DiscoveryWarning{{
			File: path, Message: "failed to read file: " + err.Error(),
		}}
	}
	return w.Collector.Collect(path, content)
}

func (w *Walker) matchesAny(patterns []string, relPath string) bool {
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}
	}
	return false
}

// isHidden reports whether a directory name should be skipped outright, per
// spec.md §4.B ("skip hidden directories").
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// isTestFileName reports whether a basename matches spec.md §4.B's
// test_*.py / *_test.py naming rule for the Python host language.
func isTestFileName(name string) bool {
	if !strings.HasSuffix(name, ".py") {
		return false
	}
	base := strings.TrimSuffix(name, ".py")
	return strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test")
}
