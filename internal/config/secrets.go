package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// errSecretNotFound is returned when a secret key is absent from the store.
var errSecretNotFound = errors.New("secret not found")

// secretsFile reads secrets from a flat JSON object such as
// {"smtp.password": "...", "admin.token": "..."}. The file should be
// readable only by its owner.
type secretsFile struct {
	path string
}

func (s secretsFile) Get(key string) (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", errSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading secrets file: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("parsing secrets file %s: %w", s.path, err)
	}
	v, ok := m[key]
	if !ok {
		return "", errSecretNotFound
	}
	return v, nil
}

// secretHint tells the user where a secret may be provided.
func secretHint(s keySpec) string {
	return fmt.Sprintf("use environment variable %s or the %q entry in %s", s.env, s.key, defaultSecretsPath())
}
