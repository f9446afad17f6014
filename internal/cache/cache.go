package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const defaultTTL = 6 * time.Hour

// Entry is the cached PATH captured from an interactive login shell.
type Entry struct {
	PATH      string    `json:"path"`
	Shell     string    `json:"shell"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Dir is the cache directory. Tests point it at a temp dir.
var Dir = func() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "usagebar"), nil
}

func cachePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "login-path.json"), nil
}

func Read() (*Entry, error) {
	path, err := cachePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// IsValid reports whether the entry is fresh and was captured from shell.
func (e *Entry) IsValid(shell string) bool {
	return e.PATH != "" && e.Shell == shell && time.Since(e.FetchedAt) < defaultTTL
}

func Write(shell, pathValue string) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	entry := Entry{
		PATH:      pathValue,
		Shell:     shell,
		FetchedAt: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	path, err := cachePath()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	return os.Rename(tmp, path)
}
