package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// detectPythonOutputs reads pyproject.toml, if present, and returns
// exclusion globs for any build/package output directory it configures
// beyond the defaults already baked into defaultExclude. The host language
// is fixed to Python, so this is the only per-project build-artifact
// detector this package carries (see DESIGN.md for the others it dropped).
func detectPythonOutputs(projectRoot string) ([]string, error) {
	path := filepath.Join(projectRoot, "pyproject.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}

	var doc struct {
		Tool struct {
			Poetry struct {
				Build struct {
					TargetDir string `toml:"target-dir"`
				} `toml:"build"`
			} `toml:"poetry"`
			Setuptools struct {
				PackageDir map[string]string `toml:"package-dir"`
			} `toml:"setuptools"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var patterns []string
	if dir := doc.Tool.Poetry.Build.TargetDir; dir != "" {
		patterns = append(patterns, "**/"+dir+"/**")
	}
	for _, dir := range doc.Tool.Setuptools.PackageDir {
		if dir != "" && dir != "." {
			patterns = append(patterns, "**/"+dir+"/**")
		}
	}

	return patterns, nil
}
