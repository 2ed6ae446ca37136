package platform

import (
	"context"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
)

// Health is the connectivity check result of one endpoint.
type Health struct {
	Label          string `json:"label"`
	BaseURL        string `json:"base_url"`
	Key            string `json:"key"`
	Knowledge      string `json:"knowledge"` // "ok" or "error"
	KnowledgeError string `json:"knowledge_error,omitempty"`
	Console        string `json:"console"` // "ok", "error" or "skipped"
	ConsoleError   string `json:"console_error,omitempty"`
}

// OK reports whether every check that ran passed.
func (h Health) OK() bool {
	return h.Knowledge == "ok" && h.Console != "error"
}

// CheckEndpoint verifies the knowledge API key and, when configured, the
// console login of ep.
func CheckEndpoint(ctx context.Context, ep models.Endpoint, opts ClientOptions) Health {
	h := Health{Label: ep.Label, BaseURL: ep.BaseURL, Key: ep.MaskedKey(), Knowledge: "ok", Console: "skipped"}
	if err := NewKnowledgeAPI(ep, opts).CheckAuth(ctx); err != nil {
		h.Knowledge, h.KnowledgeError = "error", err.Error()
	}
	if ep.HasConsoleCredentials() {
		h.Console = "ok"
		if err := NewConsoleAPI(ep, opts).CheckAuth(ctx); err != nil {
			h.Console, h.ConsoleError = "error", err.Error()
		}
	}
	return h
}
