package migration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
)

func newWorkflowLane(target *fakeApps, opts LaneOptions, includeSecrets bool, src *fakeApps) *Lane[models.AppSnapshot] {
	o := Options{Lane: opts, IncludeSecrets: includeSecrets}
	return o.workflowLane([]appOrigin{{"s", src}}, target, testDeps()).(*Lane[models.AppSnapshot])
}

func TestWorkflowLane_StripsSecretsAndCreates(t *testing.T) {
	src := newFakeApps("src")
	src.addApp("Support Bot", dslWithSecrets)
	target := newFakeApps("dst")

	report, err := newWorkflowLane(target, createOpts(), false, src).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := report.Outcomes[0]
	if out.Status != models.StatusCreated || out.Attempted != 1 || out.Succeeded != 1 || out.TargetID == "" {
		t.Errorf("outcome = %+v", out)
	}
	if len(target.imports) != 1 {
		t.Fatalf("imports = %d", len(target.imports))
	}
	imported := string(target.imports[0].Content)
	if strings.Contains(imported, "sk-1") || !strings.Contains(imported, "Support Bot") {
		t.Errorf("imported DSL = %q", imported)
	}
	if target.imports[0].AppID != "" {
		t.Error("create must not pass an app id")
	}
}

func TestWorkflowLane_IncludeSecretsForwardsVerbatim(t *testing.T) {
	src := newFakeApps("src")
	src.addApp("Support Bot", dslWithSecrets)
	target := newFakeApps("dst")

	if _, err := newWorkflowLane(target, createOpts(), true, src).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := string(target.imports[0].Content); got != dslWithSecrets {
		t.Errorf("DSL changed although secrets are included")
	}
}

func TestWorkflowLane_ReuseOverwrites(t *testing.T) {
	src := newFakeApps("src")
	src.addApp("Bot", "app:\n  name: Bot\n")
	target := newFakeApps("dst")
	existing := target.addApp("Bot", "app:\n  name: old\n")
	target.status = platform.ImportCompletedWithWarnings

	report, err := newWorkflowLane(target, LaneOptions{AutoCreate: true}, false, src).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := report.Outcomes[0]
	if out.Status != models.StatusSucceeded || out.TargetID != existing {
		t.Errorf("outcome = %+v", out)
	}
	if target.imports[0].AppID != existing {
		t.Errorf("import app id = %q, want %q", target.imports[0].AppID, existing)
	}
}

func TestWorkflowLane_ImportFailure(t *testing.T) {
	src := newFakeApps("src")
	src.addApp("A", "app:\n  name: A\n")
	src.addApp("B", "app:\n  name: B\n")
	target := newFakeApps("dst")
	target.importErr = &platform.APIError{Kind: platform.KindPayload, Op: "POST imports", Status: 400}

	report, err := newWorkflowLane(target, createOpts(), false, src).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(report.Outcomes))
	}
	for _, o := range report.Outcomes {
		if o.Status != models.StatusFailed || o.Failed != 1 || !errors.Is(o.Err, platform.ErrPayload) {
			t.Errorf("%s: outcome = %+v", o.Resource, o)
		}
	}
}

func TestWorkflowDriver_ExportFailureIsPerResource(t *testing.T) {
	src := newFakeApps("src")
	d := &WorkflowDriver{Readers: map[string]AppReader{"s": src}, Log: zerolog.Nop()}
	_, err := d.Export(context.Background(), models.TopLevelResource{ID: "missing", Name: "Gone", Origin: "s"})
	if !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := d.Export(context.Background(), models.TopLevelResource{ID: "x", Origin: "unknown"}); err == nil {
		t.Error("expected error for unknown origin")
	}
}

func TestWorkflowLane_ReportsProgressPerApp(t *testing.T) {
	src := newFakeApps("src")
	src.addApp("Bot", dslWithSecrets)
	src.addApp("Helper", dslWithSecrets)
	target := newFakeApps("dst")
	target.importErr = errors.New("bad dsl")

	progress := &progressLog{}
	deps := testDeps()
	deps.Progress = progress.sink()
	o := Options{Lane: createOpts()}
	if _, err := o.workflowLane([]appOrigin{{"s", src}}, target, deps).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := progress.list()
	if len(got) != 2 || got[0] != "Bot 1/1" || got[1] != "Helper 1/1" {
		t.Errorf("progress = %v", got)
	}
}

func TestWorkflowDriver_ExportReadsDSLHeader(t *testing.T) {
	src := newFakeApps("src")
	id := src.addApp("Support Bot", dslWithSecrets)
	src.addApp("Raw", "just text")
	d := &WorkflowDriver{Readers: map[string]AppReader{"s": src}, IncludeSecrets: true, Log: zerolog.Nop()}

	tests := []struct {
		name        string
		candidate   models.TopLevelResource
		wantMode    string
		wantVersion string
	}{
		{"mode from header", models.TopLevelResource{ID: id, Name: "Support Bot", Origin: "s"}, "workflow", "0.1.5"},
		{"listing mode wins", models.TopLevelResource{ID: id, Name: "Support Bot", Mode: "advanced-chat", Origin: "s"}, "advanced-chat", "0.1.5"},
		{"no header", models.TopLevelResource{ID: "src-app-2", Name: "Raw", Origin: "s"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := d.Export(context.Background(), tt.candidate)
			if err != nil {
				t.Fatal(err)
			}
			if snap.Mode != tt.wantMode || snap.DSLVersion != tt.wantVersion {
				t.Errorf("mode/version = %q/%q, want %q/%q", snap.Mode, snap.DSLVersion, tt.wantMode, tt.wantVersion)
			}
			if snap.DSL == "" {
				t.Error("DSL body dropped")
			}
		})
	}
}
