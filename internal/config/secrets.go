package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// SecretsPath is the key = value file holding API tokens.
func SecretsPath() string {
	dir, err := Dir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(dir, "config.toml")
}

// ReadSecrets parses a flat key = value file. Section headers and
// comments are skipped, quotes around values are removed and keys are
// lowercased.
func ReadSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return ParseSecrets(data)
}

func ParseSecrets(data []byte) (map[string]string, error) {
	out := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "#") {
			continue
		}
		// One line at a time so a key godotenv rejects only loses itself.
		kv, err := godotenv.Unmarshal(line)
		if err != nil {
			continue
		}
		for k, v := range kv {
			out[strings.ToLower(strings.TrimSpace(k))] = CleanValue(v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan secrets: %w", err)
	}
	return out, nil
}

// CleanValue trims whitespace and one pair of matching quotes.
func CleanValue(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	return strings.TrimSpace(v)
}

// FirstSecret returns the first non-empty value among keys.
func FirstSecret(secrets map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := secrets[strings.ToLower(k)]; v != "" {
			return v
		}
	}
	return ""
}
