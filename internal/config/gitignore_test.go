package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGitignoreLineToGlob_BasicPatterns covers the anywhere-in-tree, the
// directory-only, and the root-anchored shapes a .gitignore line can take,
// translated into a doublestar exclusion glob.
func TestGitignoreLineToGlob_BasicPatterns(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{"plain filename matches anywhere", "conftest.py", "**/conftest.py"},
		{"extension wildcard matches anywhere", "*.pyc", "**/*.pyc"},
		{"directory pattern excludes its whole subtree", "__pycache__/", "**/__pycache__/**"},
		{"root-anchored file", "/setup.py", "setup.py"},
		{"root-anchored directory", "/build/", "build/**"},
		{"nested path without a leading slash still matches anywhere", "tests/fixtures", "**/tests/fixtures"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			glob, ok := gitignoreLineToGlob(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.expected, glob)
		})
	}
}

func TestGitignoreLineToGlob_RejectsEmptyPattern(t *testing.T) {
	_, ok := gitignoreLineToGlob("/")
	assert.False(t, ok)
}

// TestGitignoreExcludes_ReadsFileAndSkipsCommentsAndNegations exercises the
// file-reading half against a real .gitignore, confirming comments, blank
// lines, and negation lines (unsupported, see gitignore.go) are all dropped
// rather than turned into bogus exclusion globs.
func TestGitignoreExcludes_ReadsFileAndSkipsCommentsAndNegations(t *testing.T) {
	dir := t.TempDir()
	content := "# build output\n" +
		"\n" +
		"__pycache__/\n" +
		"*.pyc\n" +
		"!keep_this.pyc\n" +
		"/dist/\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(content), 0o644))

	globs, err := gitignoreExcludes(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"**/__pycache__/**", "**/*.pyc", "dist/**"}, globs)
}

func TestGitignoreExcludes_MissingFileYieldsNoPatternsNoError(t *testing.T) {
	dir := t.TempDir()
	globs, err := gitignoreExcludes(dir)
	require.NoError(t, err)
	assert.Empty(t, globs)
}
