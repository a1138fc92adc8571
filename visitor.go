package oramacore

import (
	"os"
	"path/filepath"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// fallbackVisitorID is used in environments without a writable config dir,
// so that non-interactive clients still send a well-known identifier.
const fallbackVisitorID = "unknown-visitor"

// loadVisitorID returns a stable per-device visitor identifier, generating
// and persisting one under the user config dir on first use.
func loadVisitorID() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return fallbackVisitorID
	}
	path := filepath.Join(dir, "oramacore", "visitor_id")

	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id
		}
	}

	id, err := gonanoid.New()
	if err != nil {
		return fallbackVisitorID
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fallbackVisitorID
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return fallbackVisitorID
	}
	return id
}
