package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrConfigFileMissing is returned when a declared required config file is absent
var ErrConfigFileMissing = errors.New("expected config file missing")

// ConfigHash computes a deterministic content hash over every relevant config
// input: required files (missing is an error) plus all yaml files found under
// the given directories, hashed as normalized path + contents in sorted order.
func ConfigHash(baseDir string, required []string, dirs []string) (string, error) {
	hasher := sha256.New()

	sortedRequired := append([]string(nil), required...)
	sort.Strings(sortedRequired)
	for _, path := range sortedRequired {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigFileMissing, path)
		}
		if err := hashFile(hasher, baseDir, path); err != nil {
			return "", err
		}
	}

	sortedDirs := append([]string(nil), dirs...)
	sort.Strings(sortedDirs)
	for _, dir := range sortedDirs {
		fmt.Fprintf(hasher, "[dir]%s\x00", normalizeLabel(baseDir, dir))
		files, err := yamlFiles(dir)
		if err != nil {
			return "", err
		}
		if files == nil {
			hasher.Write([]byte("[missing]\x00"))
			continue
		}
		for _, path := range files {
			if err := hashFile(hasher, baseDir, path); err != nil {
				return "", err
			}
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func hashFile(hasher hash.Hash, baseDir, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to hash config file %s: %w", path, err)
	}
	hasher.Write([]byte(normalizeLabel(baseDir, path)))
	hasher.Write([]byte{0})
	hasher.Write(data)
	hasher.Write([]byte{0})
	return nil
}

func normalizeLabel(baseDir, path string) string {
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

// yamlFiles returns all yaml files under dir in sorted order, or nil when the
// directory does not exist.
func yamlFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk config directory %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
