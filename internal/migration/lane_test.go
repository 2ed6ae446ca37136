package migration

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
)

func TestLane_MigratesDatasetWithDocumentsAndSegments(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("Manuals", map[string]int{"intro.md": 7, "faq.md": 1}, "intro.md", "faq.md")
	target := newFakeKB("dst")

	report, err := newKBLane(target, createOpts(), kbSource{"s1", src}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != models.LaneCompleted || report.State != string(StateDone) {
		t.Errorf("lane = %s/%s, want completed/done", report.Status, report.State)
	}
	if len(report.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(report.Outcomes))
	}
	out := report.Outcomes[0]
	if out.Status != models.StatusCreated || out.Attempted != 2 || out.Succeeded != 2 {
		t.Errorf("outcome = %+v", out)
	}
	if out.Origin != "s1" || out.TargetID == "" {
		t.Errorf("origin/target id = %q/%q", out.Origin, out.TargetID)
	}

	ds, ok := target.datasetByName("Manuals")
	if !ok {
		t.Fatal("dataset not created on target")
	}
	docs := target.documents(ds.ID)
	if len(docs) != 2 || docs[0].Name != "intro.md" || docs[1].Name != "faq.md" {
		t.Fatalf("target documents = %+v", docs)
	}
	for i, doc := range docs {
		want := src.segments(src.documents(src.datasets[0].ID)[i].ID)
		got := target.segments(doc.ID)
		if len(got) != len(want) {
			t.Fatalf("%s: segments = %d, want %d", doc.Name, len(got), len(want))
		}
		for j := range want {
			if got[j].Content != want[j].Content || got[j].Position != want[j].Position {
				t.Errorf("%s segment %d = %q@%d, want %q@%d", doc.Name, j, got[j].Content, got[j].Position, want[j].Content, want[j].Position)
			}
			if !reflect.DeepEqual(got[j].Metadata, want[j].Metadata) {
				t.Errorf("%s segment %d metadata = %v, want %v", doc.Name, j, got[j].Metadata, want[j].Metadata)
			}
		}
	}
}

func TestLane_Idempotent(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("A", map[string]int{"d": 2}, "d")
	src.addDataset("B", map[string]int{"d": 1}, "d")
	target := newFakeKB("dst")

	if _, err := newKBLane(target, createOpts(), kbSource{"s1", src}).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	report, err := newKBLane(target, createOpts(), kbSource{"s1", src}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if target.datasetCount() != 2 {
		t.Errorf("target datasets = %d, want 2", target.datasetCount())
	}
	for _, o := range report.Outcomes {
		if o.Status != models.StatusSkippedExisting {
			t.Errorf("%s: status = %s, want skipped-existing", o.Resource, o.Status)
		}
		if o.TargetID == "" {
			t.Errorf("%s: skipped outcome has no target id", o.Resource)
		}
	}
}

func TestLane_SourceIsolation(t *testing.T) {
	broken := newFakeKB("bad")
	broken.listErr = &platform.APIError{Kind: platform.KindAuth, Op: "GET /v1/datasets", Status: 401}
	good := newFakeKB("good")
	good.addDataset("Kept", map[string]int{"d": 1}, "d")
	target := newFakeKB("dst")

	report, err := newKBLane(target, createOpts(), kbSource{"bad", broken}, kbSource{"good", good}).Run(context.Background())
	if err != nil {
		t.Fatalf("a source auth failure must not be fatal: %v", err)
	}
	if len(report.SourceErrors) != 1 || report.SourceErrors[0].Source != "bad" || !report.SourceErrors[0].Auth {
		t.Errorf("source errors = %+v", report.SourceErrors)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Status != models.StatusCreated {
		t.Errorf("outcomes = %+v", report.Outcomes)
	}
}

func TestLane_OrderFollowsSourcesThenListing(t *testing.T) {
	s1 := newFakeKB("s1")
	s1.addDataset("zeta", map[string]int{"d": 1}, "d")
	s1.addDataset("alpha", map[string]int{"d": 1}, "d")
	s1.addDataset("mid", map[string]int{"d": 1}, "d")
	s2 := newFakeKB("s2")
	s2.addDataset("beta", map[string]int{"d": 1}, "d")

	report, err := newKBLane(newFakeKB("dst"), createOpts(), kbSource{"one", s1}, kbSource{"two", s2}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, o := range report.Outcomes {
		got = append(got, o.Origin+"/"+o.Resource)
	}
	want := "one/zeta,one/alpha,one/mid,two/beta"
	if strings.Join(got, ",") != want {
		t.Errorf("order = %v, want %s", got, want)
	}
}

func TestLane_PartialFailureContained(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("Mixed", map[string]int{"ok1": 1, "bad": 2, "ok2": 1}, "ok1", "bad", "ok2")
	src.addDataset("Next", map[string]int{"d": 1}, "d")
	target := newFakeKB("dst")
	target.createDocErr = map[string]error{"bad": &platform.APIError{Kind: platform.KindPayload, Op: "POST create_by_text", Status: 400}}

	report, err := newKBLane(target, createOpts(), kbSource{"s", src}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != models.LaneCompleted {
		t.Errorf("lane status = %s", report.Status)
	}
	mixed := report.Outcomes[0]
	if mixed.Status != models.StatusPartiallyFailed {
		t.Errorf("status = %s, want partially-failed", mixed.Status)
	}
	if mixed.Attempted != 3 || mixed.Succeeded != 2 || mixed.Failed != 1 {
		t.Errorf("counts = %d/%d/%d", mixed.Attempted, mixed.Succeeded, mixed.Failed)
	}
	if len(mixed.ChildErrors) != 1 || mixed.ChildErrors[0].Name != "bad" || mixed.FirstError == "" {
		t.Errorf("child errors = %+v", mixed.ChildErrors)
	}
	if report.Outcomes[1].Status != models.StatusCreated {
		t.Errorf("next dataset status = %s", report.Outcomes[1].Status)
	}
}

func TestLane_SegmentFetchFailureFailsOnlyThatDocument(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("DS", map[string]int{"good": 1, "broken": 1}, "good", "broken")
	src.segErr["broken"] = errors.New("boom")

	report, err := newKBLane(newFakeKB("dst"), createOpts(), kbSource{"s", src}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := report.Outcomes[0]
	if out.Status != models.StatusPartiallyFailed || out.Failed != 1 || out.Succeeded != 1 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestLane_DuplicateNameAcrossSourcesReusesCreated(t *testing.T) {
	s1 := newFakeKB("s1")
	s1.addDataset("Shared", map[string]int{"a": 1}, "a")
	s2 := newFakeKB("s2")
	s2.addDataset("Shared", map[string]int{"b": 1}, "b")
	target := newFakeKB("dst")

	opts := LaneOptions{AutoCreate: true}
	report, err := newKBLane(target, opts, kbSource{"one", s1}, kbSource{"two", s2}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if target.datasetCount() != 1 {
		t.Fatalf("target datasets = %d, want 1", target.datasetCount())
	}
	if report.Outcomes[0].Status != models.StatusCreated || report.Outcomes[1].Status != models.StatusSucceeded {
		t.Errorf("statuses = %s, %s", report.Outcomes[0].Status, report.Outcomes[1].Status)
	}
	if report.Outcomes[0].TargetID != report.Outcomes[1].TargetID {
		t.Errorf("target ids differ: %q vs %q", report.Outcomes[0].TargetID, report.Outcomes[1].TargetID)
	}
	ds, _ := target.datasetByName("Shared")
	if docs := target.documents(ds.ID); len(docs) != 2 {
		t.Errorf("merged documents = %+v", docs)
	}
}

func TestLane_ResyncSkipsExistingDocuments(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("Docs", map[string]int{"old": 1, "new": 2}, "old", "new")
	target := newFakeKB("dst")
	target.addDataset("Docs", map[string]int{"old": 1}, "old")

	report, err := newKBLane(target, LaneOptions{AutoCreate: true}, kbSource{"s", src}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := report.Outcomes[0]
	if out.Status != models.StatusSucceeded || out.Skipped != 1 || out.Attempted != 1 {
		t.Errorf("outcome = %+v", out)
	}
	ds, _ := target.datasetByName("Docs")
	docs := target.documents(ds.ID)
	if len(docs) != 2 || docs[1].Name != "new" {
		t.Errorf("target documents = %+v", docs)
	}
}

func TestLane_AutoCreateDisabled(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("Absent", map[string]int{"d": 1}, "d")
	target := newFakeKB("dst")

	report, err := newKBLane(target, LaneOptions{}, kbSource{"s", src}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := report.Outcomes[0]
	if out.Status != models.StatusFailed || !errors.Is(out.Err, platform.ErrNotFound) {
		t.Errorf("outcome = %+v", out)
	}
	if target.datasetCount() != 0 {
		t.Error("dataset created although auto-create is disabled")
	}
}

func TestLane_ConflictOnCreateIsSkip(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("Racy", map[string]int{"d": 1}, "d")
	target := newFakeKB("dst")
	target.createDatasetErr = &platform.APIError{Kind: platform.KindConflict, Op: "POST /v1/datasets", Status: 409}

	report, err := newKBLane(target, createOpts(), kbSource{"s", src}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s := report.Outcomes[0].Status; s != models.StatusSkippedExisting {
		t.Errorf("status = %s, want skipped-existing", s)
	}
}

func TestLane_TargetAuthIsFatal(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("One", map[string]int{"d": 1}, "d")
	src.addDataset("Two", map[string]int{"d": 1}, "d")
	target := newFakeKB("dst")
	target.createDatasetErr = &platform.APIError{Kind: platform.KindAuth, Op: "POST /v1/datasets", Status: 401}

	report, err := newKBLane(target, createOpts(), kbSource{"s", src}).Run(context.Background())
	if !errors.Is(err, ErrTargetAuth) {
		t.Fatalf("err = %v, want ErrTargetAuth", err)
	}
	if report.Status != models.LaneFailed || report.State != string(StateFailed) {
		t.Errorf("lane = %s/%s", report.Status, report.State)
	}
	if len(report.Outcomes) != 1 {
		t.Errorf("outcomes = %d, want the run to stop after the first", len(report.Outcomes))
	}
}

func TestLane_TargetAuthAfterEarlierDocumentFailure(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("Docs", map[string]int{"a": 1, "b": 1, "c": 1}, "a", "b", "c")
	target := newFakeKB("dst")
	target.createDocErr = map[string]error{
		"a": &platform.APIError{Kind: platform.KindPayload, Op: "POST create_by_text", Status: 400},
		"b": &platform.APIError{Kind: platform.KindAuth, Op: "POST create_by_text", Status: 401},
	}

	report, err := newKBLane(target, createOpts(), kbSource{"s", src}).Run(context.Background())
	if !errors.Is(err, ErrTargetAuth) {
		t.Fatalf("err = %v, want ErrTargetAuth", err)
	}
	if report.Status != models.LaneFailed {
		t.Errorf("lane status = %s, want failed", report.Status)
	}
	out := report.Outcomes[0]
	if out.Attempted != 2 || out.Failed != 2 || !errors.Is(out.Fatal, platform.ErrAuth) {
		t.Errorf("outcome = %+v", out)
	}
	if errors.Is(out.Err, platform.ErrAuth) {
		t.Error("first error should stay the payload failure")
	}
}

func TestLane_TargetInventoryFailure(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("One", map[string]int{"d": 1}, "d")
	target := newFakeKB("dst")
	target.listErr = &platform.APIError{Kind: platform.KindPayload, Op: "GET /v1/datasets", Status: 400}

	lane := newKBLane(target, createOpts(), kbSource{"s", src})
	report, err := lane.Run(context.Background())
	if err != nil {
		t.Fatalf("non-auth target failure must not be fatal: %v", err)
	}
	if report.Status != models.LaneFailed || lane.State() != StateFailed || report.Error == "" {
		t.Errorf("report = %+v", report)
	}
	if len(report.Outcomes) != 0 {
		t.Errorf("outcomes = %+v", report.Outcomes)
	}
}

func TestLane_CancelKeepsPartialOutcomes(t *testing.T) {
	src := newFakeKB("src")
	for _, n := range []string{"first", "second", "third"} {
		src.addDataset(n, map[string]int{"a": 1, "b": 1}, "a", "b")
	}
	target := newFakeKB("dst")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	target.onCreateDataset = func(string) { cancel() }

	report, err := newKBLane(target, createOpts(), kbSource{"s", src}).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Cancelled {
		t.Error("report not marked cancelled")
	}
	if len(report.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(report.Outcomes))
	}
	// The resource in flight when cancel arrived is finished, not torn.
	if out := report.Outcomes[0]; out.Status != models.StatusCreated || out.Succeeded != 2 {
		t.Errorf("in-flight outcome = %+v", out)
	}
}

func TestLane_BufferedExportsBeforeImporting(t *testing.T) {
	calls := &callLog{}
	src := newFakeKB("src")
	src.log = calls
	for _, n := range []string{"c", "a", "b"} {
		src.addDataset(n, map[string]int{"d": 1}, "d")
	}
	target := newFakeKB("dst")
	target.log = calls

	opts := createOpts()
	opts.Mode = ModeBuffered
	report, err := newKBLane(target, opts, kbSource{"s", src}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, o := range report.Outcomes {
		names = append(names, o.Resource)
	}
	if strings.Join(names, "") != "cab" {
		t.Errorf("order = %v, want inventory order", names)
	}
	lastExport, firstCreate := -1, -1
	for i, c := range calls.list() {
		if strings.HasPrefix(c, "src:documents:") {
			lastExport = i
		}
		if strings.HasPrefix(c, "dst:create:") && firstCreate < 0 {
			firstCreate = i
		}
	}
	if firstCreate < lastExport {
		t.Errorf("import started before every export finished: %v", calls.list())
	}
}

func TestLane_Exclude(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("keep", map[string]int{"d": 1}, "d")
	src.addDataset("drop", map[string]int{"d": 1}, "d")
	opts := createOpts()
	opts.Exclude = []string{"drop"}

	report, err := newKBLane(newFakeKB("dst"), opts, kbSource{"s", src}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Resource != "keep" {
		t.Errorf("outcomes = %+v", report.Outcomes)
	}
}

func TestParseTransferMode(t *testing.T) {
	tests := []struct {
		in      string
		want    TransferMode
		wantErr bool
	}{
		{"", ModeStreaming, false},
		{"streaming", ModeStreaming, false},
		{"buffered", ModeBuffered, false},
		{"batch", ModeBuffered, false},
		{"eager", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTransferMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseTransferMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestLane_ReportsDocumentProgress(t *testing.T) {
	src := newFakeKB("src")
	src.addDataset("Manuals", map[string]int{"a": 1, "b": 2, "c": 1}, "a", "b", "c")
	src.addDataset("Empty", nil)
	target := newFakeKB("dst")
	target.createDocErr = map[string]error{"b": errors.New("boom")}

	progress := &progressLog{}
	deps := testDeps()
	deps.Progress = progress.sink()
	o := Options{Lane: createOpts()}
	if _, err := o.knowledgeLane([]knowledgeOrigin{{"s1", src}}, target, deps).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{"Manuals 1/3", "Manuals 2/3", "Manuals 3/3"}
	if got := progress.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("progress = %v, want %v", got, want)
	}
}
