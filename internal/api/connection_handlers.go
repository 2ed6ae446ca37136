package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/dify-migration-workbench/internal/migration"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
)

// endpointView is an endpoint as shown to API clients, without secrets.
type endpointView struct {
	Label    string `json:"label"`
	Role     string `json:"role"` // "source" or "target"
	BaseURL  string `json:"base_url"`
	Key      string `json:"key"`
	Console  bool   `json:"console"`
	Insecure bool   `json:"insecure,omitempty"`
}

func viewOf(ep models.Endpoint, role string) endpointView {
	return endpointView{
		Label:    ep.Label,
		Role:     role,
		BaseURL:  ep.BaseURL,
		Key:      ep.MaskedKey(),
		Console:  ep.HasConsoleCredentials(),
		Insecure: ep.Insecure,
	}
}

// ListEndpoints returns the configured sources followed by the target.
func (s *Server) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	views := make([]endpointView, 0, len(s.Config.Sources)+1)
	for _, ep := range s.Config.Endpoints() {
		views = append(views, viewOf(ep, "source"))
	}
	views = append(views, viewOf(s.Config.Target.Endpoint(), "target"))
	writeJSON(w, http.StatusOK, views)
}

// TestEndpoint checks the credentials of one endpoint.
func (s *Server) TestEndpoint(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")
	o, err := s.Config.MigrationOptions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var ep *models.Endpoint
	if label == migration.TargetLabel || label == o.Target.Label {
		ep = &o.Target
	}
	for i := range o.Sources {
		if o.Sources[i].Label == label {
			ep = &o.Sources[i]
		}
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	h := platform.CheckEndpoint(r.Context(), *ep, o.Client)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     h.OK(),
		"health": h,
	})
}
