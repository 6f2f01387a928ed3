package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileBackend stores flat dotted keys ("smtp.host: mail.example.com") in a
// YAML file. The file is read on every call so edits made by `config set`
// in another process are picked up.
type fileBackend struct {
	path string
}

func newFileBackend(path string) *fileBackend {
	return &fileBackend{path: path}
}

func (f *fileBackend) load() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", f.path, err)
	}
	return m, nil
}

func (f *fileBackend) save(m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding config file: %w", err)
	}
	return os.WriteFile(f.path, data, 0o644)
}

func (f *fileBackend) GetString(key string) (string, bool, error) {
	m, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	if !ok || v == nil {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ","), true, nil
	default:
		return fmt.Sprint(val), true, nil
	}
}

func (f *fileBackend) GetInt(key string) (int, bool, error) {
	m, err := f.load()
	if err != nil {
		return 0, false, err
	}
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch val := v.(type) {
	case int:
		return val, true, nil
	case float64:
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, false, fmt.Errorf("%s is not an integer: %q", key, val)
		}
		return i, true, nil
	default:
		return 0, false, fmt.Errorf("%s is not an integer: %v", key, val)
	}
}

func (f *fileBackend) SetString(key, val string) error {
	m, err := f.load()
	if err != nil {
		return err
	}
	m[key] = val
	return f.save(m)
}

func (f *fileBackend) SetInt(key string, val int) error {
	m, err := f.load()
	if err != nil {
		return err
	}
	m[key] = val
	return f.save(m)
}

func (f *fileBackend) Delete(key string) error {
	m, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return f.save(m)
}
