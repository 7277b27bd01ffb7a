package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// gitignoreExcludes reads rootPath/.gitignore, if present, and returns its
// patterns translated directly into doublestar-glob exclusions for the
// Discovery Walker, feeding config.Load's exclusion list when a project's
// `.taut.kdl` sets respect-gitignore (the default). A missing .gitignore is
// not an error: it simply yields no patterns.
//
// Negated patterns ("!pattern") are not supported: doublestar excludes are
// a flat deny-list with no concept of re-including a path a broader glob
// already excluded, so a negation line is skipped rather than silently
// producing a wrong exclusion.
func gitignoreExcludes(rootPath string) ([]string, error) {
	f, err := os.Open(filepath.Join(rootPath, ".gitignore"))
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	var globs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if glob, ok := gitignoreLineToGlob(line); ok {
			globs = append(globs, glob)
		}
	}
	return globs, scanner.Err()
}

// gitignoreLineToGlob converts one non-comment, non-negated .gitignore line
// into a doublestar exclusion glob that matches the same shape of paths git
// itself would ignore: directory-only patterns get a trailing "/**",
// absolute (leading-slash) patterns anchor at rootPath, and everything else
// matches anywhere in the tree via a leading "**/".
func gitignoreLineToGlob(line string) (string, bool) {
	directory := strings.HasSuffix(line, "/")
	line = strings.TrimSuffix(line, "/")

	absolute := strings.HasPrefix(line, "/")
	line = strings.TrimPrefix(line, "/")

	if line == "" {
		return "", false
	}

	switch {
	case directory && absolute:
		return line + "/**", true
	case directory:
		return "**/" + line + "/**", true
	case absolute:
		return line, true
	default:
		return "**/" + line, true
	}
}
