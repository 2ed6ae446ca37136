package api

import (
	"net/http"
)

// GetExclusions returns the resource names left out of every run, and the
// lanes that cannot run with the current credentials.
func (s *Server) GetExclusions(w http.ResponseWriter, r *http.Request) {
	exclude := s.Config.Migration.Exclude
	if exclude == nil {
		exclude = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resources":        exclude,
		"workflow_enabled": s.Config.WorkflowEnabled(),
		"include_secrets":  s.Config.Migration.IncludeSecrets,
	})
}
