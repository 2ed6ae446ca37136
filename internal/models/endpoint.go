package models

import (
	"fmt"
	"strings"
)

// Endpoint is one configured Dify instance, either a migration source or the target.
type Endpoint struct {
	Label    string `json:"label"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"-"`                  // knowledge API bearer key
	Email    string `json:"email,omitempty"`    // console login, workflow lane only
	Password string `json:"-"`                  // console login, workflow lane only
	Insecure bool   `json:"insecure,omitempty"` // skip TLS verification
}

// HasConsoleCredentials reports whether both console login fields are set.
func (e Endpoint) HasConsoleCredentials() bool {
	return e.Email != "" && e.Password != ""
}

// KnowledgeURL returns the root the /v1 knowledge API paths are appended to.
func (e Endpoint) KnowledgeURL() string {
	return trimAPIRoot(e.BaseURL)
}

// ConsoleURL returns the root the /console/api paths are appended to.
func (e Endpoint) ConsoleURL() string {
	return trimAPIRoot(e.BaseURL)
}

// MaskedKey returns the API key with everything but its prefix and suffix hidden.
func (e Endpoint) MaskedKey() string {
	if len(e.APIKey) <= 14 {
		if e.APIKey == "" {
			return ""
		}
		return "***"
	}
	return e.APIKey[:10] + "..." + e.APIKey[len(e.APIKey)-4:]
}

// String never prints secrets.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s (%s, key %s, console=%v)", e.Label, e.BaseURL, e.MaskedKey(), e.HasConsoleCredentials())
}

// trimAPIRoot strips trailing slashes and a trailing /v1 so both API
// families can append their own absolute paths.
func trimAPIRoot(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	return strings.TrimSuffix(u, "/v1")
}
