package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
)

func newTestKnowledge(ts *httptest.Server) *KnowledgeAPI {
	ep := models.Endpoint{Label: "src", BaseURL: ts.URL + "/v1", APIKey: "dataset-0123456789"}
	return NewKnowledgeAPI(ep, testOptions(ts))
}

func TestKnowledge_DatasetsPaged(t *testing.T) {
	var pages []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/datasets" {
			t.Errorf("path = %s, want /v1/datasets", r.URL.Path)
		}
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		if r.URL.Query().Get("limit") != "20" {
			t.Errorf("limit = %s, want 20", r.URL.Query().Get("limit"))
		}
		var resp map[string]interface{}
		if page == "1" {
			resp = map[string]interface{}{
				"data":     []interface{}{map[string]interface{}{"id": "d1", "name": "Docs", "description": "main"}},
				"has_more": true,
			}
		} else {
			resp = map[string]interface{}{
				"data":     []interface{}{map[string]interface{}{"id": "d2", "name": "FAQ"}},
				"has_more": false,
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	k := newTestKnowledge(ts)
	all, err := pagination.New[models.TopLevelResource](k.DatasetsPage, pagination.Options{}).All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 || all[0].Name != "Docs" || all[1].ID != "d2" {
		t.Errorf("datasets = %+v", all)
	}
	if all[0].Kind != models.KindKnowledgeBase || all[0].Description != "main" {
		t.Errorf("dataset[0] = %+v", all[0])
	}
	if len(pages) != 2 || pages[1] != "2" {
		t.Errorf("pages requested = %v", pages)
	}
}

func TestKnowledge_CreateDataset(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "Docs" || body["permission"] != "only_me" {
			t.Errorf("body = %v", body)
		}
		w.Write([]byte(`{"id":"new-1","name":"Docs"}`))
	}))
	defer ts.Close()

	id, err := newTestKnowledge(ts).CreateDataset(context.Background(), "Docs", "desc")
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if id != "new-1" {
		t.Errorf("id = %q, want new-1", id)
	}
}

func TestKnowledge_CreateDatasetConflict(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"dataset_name_duplicate"}`))
	}))
	defer ts.Close()

	_, err := newTestKnowledge(ts).CreateDataset(context.Background(), "Docs", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestSeedRule(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"plain", "short text"},
		{"contains the default separator", "a\n\n<<<segment>>>\n\nb"},
		{"long", strings.Repeat("x", 5000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := seedRule(tt.text)
			if rule["mode"] != "custom" {
				t.Errorf("mode = %v", rule["mode"])
			}
			rules := rule["rules"].(map[string]interface{})
			for _, pre := range rules["pre_processing_rules"].([]map[string]interface{}) {
				if pre["enabled"] != false {
					t.Errorf("pre-processing %v enabled", pre["id"])
				}
			}
			seg := rules["segmentation"].(map[string]interface{})
			if strings.Contains(tt.text, seg["separator"].(string)) {
				t.Errorf("separator %q occurs in the text", seg["separator"])
			}
			if seg["max_tokens"].(int) < len(tt.text) {
				t.Errorf("max_tokens = %v, shorter than the text", seg["max_tokens"])
			}
		})
	}
}

func TestKnowledge_CreateDocument(t *testing.T) {
	var (
		created  map[string]interface{}
		updated  map[string]interface{}
		listings int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/datasets/ds-1/document/create_by_text", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&created)
		w.Write([]byte(`{"document":{"id":"doc-9","name":"guide.md"},"batch":"b"}`))
	})
	mux.HandleFunc("GET /v1/datasets/ds-1/documents/doc-9/segments", func(w http.ResponseWriter, r *http.Request) {
		// Indexing finishes on the second look.
		if listings++; listings == 1 {
			w.Write([]byte(`{"data":[],"has_more":false}`))
			return
		}
		w.Write([]byte(`{"data":[{"id":"seg-1","content":"first","position":1}],"has_more":false}`))
	})
	mux.HandleFunc("POST /v1/datasets/ds-1/documents/doc-9/segments/seg-1", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Segment map[string]interface{} `json:"segment"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		updated = body.Segment
		w.Write([]byte(`{"data":{}}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	seed := models.Segment{Content: "first", Position: 1, Metadata: map[string]interface{}{
		"keywords": []interface{}{"k1"},
		"answer":   "A1",
	}}
	id, err := newTestKnowledge(ts).CreateDocument(context.Background(), "ds-1", "guide.md", seed)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if id != "doc-9" {
		t.Errorf("id = %q, want doc-9", id)
	}
	if created["name"] != "guide.md" || created["text"] != "first" {
		t.Errorf("create body = %v", created)
	}
	if rule, _ := created["process_rule"].(map[string]interface{}); rule["mode"] != "custom" {
		t.Errorf("process rule = %v, want custom", created["process_rule"])
	}
	if listings != 2 {
		t.Errorf("segment listings = %d, want 2", listings)
	}
	if updated["content"] != "first" || updated["answer"] != "A1" || fmt.Sprint(updated["keywords"]) != "[k1]" {
		t.Errorf("seed update = %v", updated)
	}
}

func TestKnowledge_CreateDocumentWithoutMetadata(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"document":{"id":"doc-1"}}`))
	}))
	defer ts.Close()

	if _, err := newTestKnowledge(ts).CreateDocument(context.Background(), "ds", "n", models.Segment{Content: "x"}); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want only the create", calls)
	}
}

func TestKnowledge_CreateDocumentNeverIndexed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/datasets/ds/document/create_by_text", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"document":{"id":"doc-1"}}`))
	})
	mux.HandleFunc("GET /v1/datasets/ds/documents/doc-1/segments", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[],"has_more":false}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	seed := models.Segment{Content: "x", Metadata: map[string]interface{}{"answer": "y"}}
	id, err := newTestKnowledge(ts).CreateDocument(context.Background(), "ds", "n", seed)
	if id != "doc-1" || !errors.Is(err, errNotIndexed) {
		t.Errorf("id, err = %q, %v", id, err)
	}
}

func TestKnowledge_SegmentsKeepMetadata(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/datasets/ds-1/documents/doc-1/segments" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[
			{"content":"first","position":1,"keywords":["a","b"],"answer":"x"},
			{"content":"second","position":2}
		],"has_more":false}`))
	}))
	defer ts.Close()

	page, err := newTestKnowledge(ts).SegmentsPage(context.Background(), "ds-1", "doc-1", "", 20)
	if err != nil {
		t.Fatalf("SegmentsPage: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("segments = %d, want 2", len(page.Items))
	}
	first := page.Items[0]
	if first.Content != "first" || first.Position != 1 {
		t.Errorf("first = %+v", first)
	}
	if first.Metadata["answer"] != "x" {
		t.Errorf("metadata = %v, want answer kept", first.Metadata)
	}
	if _, ok := first.Metadata["content"]; ok {
		t.Error("content should not be duplicated into metadata")
	}
}

func TestKnowledge_AddSegmentsOrder(t *testing.T) {
	var got []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Segments []map[string]interface{} `json:"segments"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, s := range body.Segments {
			got = append(got, s["content"].(string))
			if s["content"] == "a" && s["answer"] != "yes" {
				t.Errorf("metadata lost: %v", s)
			}
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer ts.Close()

	segs := []models.Segment{
		{Content: "a", Position: 1, Metadata: map[string]interface{}{"answer": "yes"}},
		{Content: "b", Position: 2},
	}
	if err := newTestKnowledge(ts).AddSegments(context.Background(), "ds", "doc", segs); err != nil {
		t.Fatalf("AddSegments: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("segments sent = %v", got)
	}
}

func TestKnowledge_CheckAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	if err := newTestKnowledge(ts).CheckAuth(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("CheckAuth err = %v, want ErrAuth", err)
	}
}
