// Package configloader reads the YAML files that tune AI routing and prompts.
package configloader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader resolves YAML files relative to a base directory.
type Loader struct {
	baseDir string
}

// NewLoader creates a new configuration loader.
func NewLoader(baseDir string) *Loader {
	return &Loader{
		baseDir: baseDir,
	}
}

// Load loads a single YAML file and unmarshals it into target.
// Unknown keys are rejected. An empty file leaves target untouched.
func (l *Loader) Load(subPath string, target any) error {
	data, err := l.ReadFileWithFallback(subPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", subPath, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("unmarshal YAML %s: %w", subPath, err)
	}

	return nil
}

// LoadDir loads all YAML files from a directory in name order.
// The factory function is called for each file to create the target struct.
func (l *Loader) LoadDir(subDir string, factory func(path string) (any, error)) (map[string]any, error) {
	dirPath := filepath.Join(l.baseDir, subDir)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dirPath, err)
	}

	result := make(map[string]any)

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}

		filePath := filepath.Join(subDir, entry.Name())
		target, err := factory(filePath)
		if err != nil {
			return nil, fmt.Errorf("create target for %s: %w", filePath, err)
		}

		if err := l.Load(filePath, target); err != nil {
			return nil, fmt.Errorf("load %s: %w", filePath, err)
		}

		result[filePath] = target
	}

	return result, nil
}

// ReadFileWithFallback tries to read file from path relative to baseDir,
// then falls back to executable directory for production builds.
func (l *Loader) ReadFileWithFallback(path string) ([]byte, error) {
	if filepath.IsAbs(path) {
		return os.ReadFile(path)
	}

	absPath := filepath.Join(l.baseDir, path)
	data, err := os.ReadFile(absPath)
	if err == nil {
		return data, nil
	}

	execPath, execErr := os.Executable()
	if execErr != nil {
		return nil, err
	}

	execDir := filepath.Dir(execPath)
	data, execErr = os.ReadFile(filepath.Join(execDir, l.baseDir, path))
	if execErr != nil {
		return nil, err
	}
	return data, nil
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
