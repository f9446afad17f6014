// Package oauth manages the lifecycle of OAuth credentials owned by
// vendor CLIs: loading them, refreshing before expiry and writing the
// refreshed record back.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/tnunamak/usagebar/internal/errs"
)

// Record is one credential set. It is replaced as a whole on refresh and
// never mutated in place.
type Record struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	IDToken      string
}

// ValidAt reports whether the access token is usable until at least t.
func (r *Record) ValidAt(t time.Time) bool {
	if r == nil || r.AccessToken == "" {
		return false
	}
	// A zero expiry means the issuer never said; trust the token.
	return r.ExpiresAt.IsZero() || r.ExpiresAt.After(t)
}

type Store interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, r *Record) error
}

// Stamper is implemented by stores that can report when their backing data
// last changed.
type Stamper interface {
	Stamp() (time.Time, error)
}

// FileStore keeps credentials in a CLI's JSON file using the
// access_token / refresh_token / id_token / expiry_date (epoch ms) layout.
// Keys it does not know about are preserved on save.
type FileStore struct {
	Path string
}

func (s *FileStore) readRaw() (map[string]any, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.KindConfigMissing, s.Path, err)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(errs.KindDataCorrupted, s.Path, err)
	}
	return raw, nil
}

// Stamp is the credential file's modification time.
func (s *FileStore) Stamp() (time.Time, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (s *FileStore) Load(_ context.Context) (*Record, error) {
	raw, err := s.readRaw()
	if err != nil {
		return nil, err
	}
	r := &Record{
		AccessToken:  stringField(raw, "access_token"),
		RefreshToken: stringField(raw, "refresh_token"),
		IDToken:      stringField(raw, "id_token"),
	}
	if ms, ok := raw["expiry_date"].(float64); ok && ms > 0 {
		r.ExpiresAt = time.UnixMilli(int64(math.Round(ms)))
	}
	if r.AccessToken == "" {
		return nil, errs.Newf(errs.KindUnauthorized, s.Path, "no access token")
	}
	return r, nil
}

// Save rewrites the file atomically via a temp file and rename.
func (s *FileStore) Save(_ context.Context, r *Record) error {
	raw, err := s.readRaw()
	if err != nil {
		raw = map[string]any{}
	}
	raw["access_token"] = r.AccessToken
	if r.RefreshToken != "" {
		raw["refresh_token"] = r.RefreshToken
	}
	if r.IDToken != "" {
		raw["id_token"] = r.IDToken
	}
	if !r.ExpiresAt.IsZero() {
		raw["expiry_date"] = r.ExpiresAt.UnixMilli()
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".usagebar-creds-*")
	if err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
