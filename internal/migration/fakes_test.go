package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
)

// callLog records calls across several fakes in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(format string, args ...interface{}) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
	c.mu.Unlock()
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// fakeKB is an in-memory knowledge API usable as source and target.
type fakeKB struct {
	mu       sync.Mutex
	prefix   string
	datasets []models.TopLevelResource
	docs     map[string][]models.Document // dataset id
	segs     map[string][]models.Segment  // document id
	nextID   int

	listErr          error
	segErr           map[string]error // document name
	createDatasetErr error
	createDocErr     map[string]error // document name
	onCreateDataset  func(name string)
	log              *callLog
}

func newFakeKB(prefix string) *fakeKB {
	return &fakeKB{
		prefix: prefix,
		docs:   map[string][]models.Document{},
		segs:   map[string][]models.Segment{},
		segErr: map[string]error{},
	}
}

// addDataset adds a dataset whose documents each hold the given number of segments.
func (f *fakeKB) addDataset(name string, docs map[string]int, order ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID("ds")
	f.datasets = append(f.datasets, models.TopLevelResource{ID: id, Name: name})
	for _, docName := range order {
		docID := f.newID("doc")
		f.docs[id] = append(f.docs[id], models.Document{ID: docID, Name: docName})
		for i := 1; i <= docs[docName]; i++ {
			f.segs[docID] = append(f.segs[docID], models.Segment{
				Content:  fmt.Sprintf("%s/%s #%d", name, docName, i),
				Position: i,
				Metadata: map[string]interface{}{
					"keywords": []interface{}{fmt.Sprintf("%s-k%d", docName, i)},
					"answer":   fmt.Sprintf("%s answer %d", docName, i),
				},
			})
		}
	}
	return id
}

func (f *fakeKB) newID(kind string) string {
	f.nextID++
	return fmt.Sprintf("%s-%s-%d", f.prefix, kind, f.nextID)
}

func (f *fakeKB) datasetByName(name string) (models.TopLevelResource, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.datasets {
		if d.Name == name {
			return d, true
		}
	}
	return models.TopLevelResource{}, false
}

func (f *fakeKB) datasetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.datasets)
}

func (f *fakeKB) documents(datasetID string) []models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Document(nil), f.docs[datasetID]...)
}

func (f *fakeKB) segments(documentID string) []models.Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Segment(nil), f.segs[documentID]...)
}

func (f *fakeKB) DatasetsPage(_ context.Context, cursor string, size int) (pagination.Page[models.TopLevelResource], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return pagination.Page[models.TopLevelResource]{}, f.listErr
	}
	return pageOf(append([]models.TopLevelResource(nil), f.datasets...), cursor, size)
}

func (f *fakeKB) DocumentsPage(_ context.Context, datasetID, cursor string, size int) (pagination.Page[models.Document], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log.add("%s:documents:%s", f.prefix, datasetID)
	return pageOf(append([]models.Document(nil), f.docs[datasetID]...), cursor, size)
}

func (f *fakeKB) SegmentsPage(_ context.Context, datasetID, documentID, cursor string, size int) (pagination.Page[models.Segment], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs[datasetID] {
		if d.ID == documentID && f.segErr[d.Name] != nil {
			return pagination.Page[models.Segment]{}, f.segErr[d.Name]
		}
	}
	return pageOf(append([]models.Segment(nil), f.segs[documentID]...), cursor, size)
}

func (f *fakeKB) CreateDataset(_ context.Context, name, description string) (string, error) {
	if f.onCreateDataset != nil {
		f.onCreateDataset(name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log.add("%s:create:%s", f.prefix, name)
	if f.createDatasetErr != nil {
		return "", f.createDatasetErr
	}
	id := f.newID("ds")
	f.datasets = append(f.datasets, models.TopLevelResource{ID: id, Name: name, Description: description})
	return id, nil
}

func (f *fakeKB) CreateDocument(_ context.Context, datasetID, name string, seed models.Segment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createDocErr[name]; err != nil {
		return "", err
	}
	id := f.newID("doc")
	f.docs[datasetID] = append(f.docs[datasetID], models.Document{ID: id, Name: name})
	f.segs[id] = []models.Segment{seed}
	return id, nil
}

func (f *fakeKB) AddSegments(_ context.Context, _, documentID string, segments []models.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segs[documentID] = append(f.segs[documentID], segments...)
	return nil
}

// fakeApps is an in-memory console API usable as source and target.
type fakeApps struct {
	mu      sync.Mutex
	prefix  string
	apps    []models.TopLevelResource
	dsl     map[string]string // app id
	nextID  int
	status  string
	imports []models.ImportRequest

	importErr error
}

func newFakeApps(prefix string) *fakeApps {
	return &fakeApps{prefix: prefix, dsl: map[string]string{}, status: platform.ImportCompleted}
}

func (f *fakeApps) addApp(name, dsl string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("%s-app-%d", f.prefix, f.nextID)
	f.apps = append(f.apps, models.TopLevelResource{ID: id, Name: name, Mode: "workflow"})
	f.dsl[id] = dsl
	return id
}

func (f *fakeApps) AppsPage(_ context.Context, cursor string, size int) (pagination.Page[models.TopLevelResource], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageOf(append([]models.TopLevelResource(nil), f.apps...), cursor, size)
}

func (f *fakeApps) ExportDSL(_ context.Context, appID string, _ bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dsl[appID]
	if !ok {
		return nil, &platform.APIError{Kind: platform.KindNotFound, Op: "GET export", Status: 404}
	}
	return []byte(d), nil
}

func (f *fakeApps) ImportDSL(_ context.Context, req models.ImportRequest) (*platform.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imports = append(f.imports, req)
	if f.importErr != nil {
		return nil, f.importErr
	}
	id := req.AppID
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("%s-app-%d", f.prefix, f.nextID)
		f.apps = append(f.apps, models.TopLevelResource{ID: id, Name: req.Name})
	}
	f.dsl[id] = string(req.Content)
	return &platform.ImportResult{ID: "imp-1", Status: f.status, AppID: id}, nil
}

func testDeps() LaneDeps {
	return LaneDeps{
		Fetch: pagination.Options{PageSize: 2, Attempts: 1, Delay: time.Millisecond},
		Log:   zerolog.Nop(),
	}
}

type kbSource struct {
	label string
	kb    *fakeKB
}

func newKBLane(target *fakeKB, opts LaneOptions, sources ...kbSource) *Lane[models.DatasetSnapshot] {
	origins := make([]knowledgeOrigin, 0, len(sources))
	for _, s := range sources {
		origins = append(origins, knowledgeOrigin{s.label, s.kb})
	}
	o := Options{Lane: opts, DedupOnReuse: true, SegmentBatchSize: 3}
	return o.knowledgeLane(origins, target, testDeps()).(*Lane[models.DatasetSnapshot])
}

func createOpts() LaneOptions {
	return LaneOptions{SkipExisting: true, AutoCreate: true}
}

// progressLog records ProgressSink calls as "resource done/total".
type progressLog struct{ callLog }

func (p *progressLog) sink() ProgressSink {
	return ProgressFunc(func(resource string, done, total int) {
		p.add("%s %d/%d", resource, done, total)
	})
}
