package providers

import (
	"path/filepath"

	"github.com/tnunamak/usagebar/internal/usage"
)

// LoginTarget is where a vendor CLI leaves its credentials after sign-in
// and the command the user runs to sign in.
type LoginTarget struct {
	Path    string
	Command string
}

// LoginTarget reports the credential file for id. z.ai has none.
func (d *Deps) LoginTarget(id usage.Provider) (LoginTarget, bool) {
	switch id {
	case usage.Claude:
		return LoginTarget{Path: d.path(".claude", ".credentials.json"), Command: "claude /login"}, true
	case usage.Codex:
		return LoginTarget{Path: filepath.Join(d.codexHome(), "auth.json"), Command: "codex login"}, true
	case usage.Gemini:
		return LoginTarget{Path: d.path(".gemini", "oauth_creds.json"), Command: "gemini"}, true
	}
	return LoginTarget{}, false
}
