package cookies

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type profile struct {
	name string
	db   string
}

func (im *Importer) roots(b Browser) []string {
	h := im.Home
	if im.GOOS == "darwin" {
		support := filepath.Join(h, "Library", "Application Support")
		switch b {
		case Chrome:
			return []string{filepath.Join(support, "Google", "Chrome")}
		case Brave:
			return []string{filepath.Join(support, "BraveSoftware", "Brave-Browser")}
		case Edge:
			return []string{filepath.Join(support, "Microsoft Edge")}
		case Arc:
			return []string{filepath.Join(support, "Arc", "User Data")}
		case Chromium:
			return []string{filepath.Join(support, "Chromium")}
		case Firefox:
			return []string{filepath.Join(support, "Firefox", "Profiles")}
		}
		return nil
	}
	config := filepath.Join(h, ".config")
	switch b {
	case Chrome:
		return []string{filepath.Join(config, "google-chrome")}
	case Brave:
		return []string{filepath.Join(config, "BraveSoftware", "Brave-Browser")}
	case Edge:
		return []string{filepath.Join(config, "microsoft-edge")}
	case Chromium:
		return []string{filepath.Join(config, "chromium")}
	case Firefox:
		return []string{
			filepath.Join(h, ".mozilla", "firefox"),
			filepath.Join(h, "snap", "firefox", "common", ".mozilla", "firefox"),
		}
	}
	return nil
}

// profiles lists cookie databases for b, default-like profiles first.
func (im *Importer) profiles(b Browser) []profile {
	var out []profile
	for _, root := range im.roots(b) {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(root, e.Name())
			if db := cookieDB(b, dir); db != "" {
				out = append(out, profile{name: e.Name(), db: db})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := profileRank(out[i].name), profileRank(out[j].name)
		if ri != rj {
			return ri < rj
		}
		return out[i].name < out[j].name
	})
	return out
}

func cookieDB(b Browser, dir string) string {
	var candidates []string
	if b == Firefox {
		candidates = []string{filepath.Join(dir, "cookies.sqlite")}
	} else {
		candidates = []string{
			filepath.Join(dir, "Network", "Cookies"),
			filepath.Join(dir, "Cookies"),
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

func profileRank(name string) int {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "default-release"):
		return 0
	case strings.Contains(n, "default"):
		return 1
	}
	return 2
}
