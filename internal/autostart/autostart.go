// Package autostart registers the tray to launch at login.
package autostart

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const launchLabel = "com.usagebar.tray"

// Installer writes the login item for one platform. Zero fields fall back
// to the current user's directories.
type Installer struct {
	GOOS      string
	ConfigDir string
	Home      string
	// Launchctl runs launchctl on macOS; nil runs the real binary.
	Launchctl func(args ...string) error
}

func Default() *Installer {
	return &Installer{GOOS: runtime.GOOS}
}

func Install() error   { return Default().Install() }
func Uninstall() error { return Default().Uninstall() }

func (in *Installer) Install() error {
	bin, err := execPath()
	if err != nil {
		return err
	}
	return in.InstallBinary(bin)
}

// InstallBinary registers bin with the "tray" argument.
func (in *Installer) InstallBinary(bin string) error {
	path, body, err := in.entry(bin)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create autostart dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if in.GOOS == "darwin" {
		return in.launchctl("load", path)
	}
	return nil
}

func (in *Installer) Uninstall() error {
	path, err := in.Path()
	if err != nil {
		return err
	}
	if in.GOOS == "darwin" {
		_ = in.launchctl("unload", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Installed reports whether the login item exists.
func (in *Installer) Installed() bool {
	path, err := in.Path()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Path is where the login item lives.
func (in *Installer) Path() (string, error) {
	switch in.GOOS {
	case "linux":
		dir := in.ConfigDir
		if dir == "" {
			var err error
			if dir, err = os.UserConfigDir(); err != nil {
				return "", err
			}
		}
		return filepath.Join(dir, "autostart", "usagebar.desktop"), nil
	case "darwin":
		home := in.Home
		if home == "" {
			var err error
			if home, err = os.UserHomeDir(); err != nil {
				return "", err
			}
		}
		return filepath.Join(home, "Library", "LaunchAgents", launchLabel+".plist"), nil
	}
	return "", fmt.Errorf("autostart not supported on %s", in.GOOS)
}

func (in *Installer) entry(bin string) (path, body string, err error) {
	if path, err = in.Path(); err != nil {
		return "", "", err
	}
	if in.GOOS == "darwin" {
		return path, fmt.Sprintf(launchAgentPlist, launchLabel, xmlEscape(bin)), nil
	}
	return path, fmt.Sprintf(desktopEntry, desktopQuote(bin)), nil
}

func (in *Installer) launchctl(args ...string) error {
	if in.Launchctl != nil {
		return in.Launchctl(args...)
	}
	return exec.Command("launchctl", args...).Run()
}

func execPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

// Linux: XDG autostart .desktop file

const desktopEntry = `[Desktop Entry]
Type=Application
Name=usagebar
Comment=AI coding assistant usage monitor
Exec=%s tray
Terminal=false
X-GNOME-Autostart-enabled=true
`

// desktopQuote quotes an Exec path that contains spaces.
func desktopQuote(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// macOS: LaunchAgent plist

const launchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>tray</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>
`

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
