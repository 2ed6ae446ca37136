package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
)

const (
	sourceKey = "dataset-source-key"
	targetKey = "dataset-target-key"
)

// newFakeDify serves /v1/datasets for a source holding one empty dataset and
// an initially empty target.
func newFakeDify(t *testing.T) *httptest.Server {
	var (
		mu     sync.Mutex
		target []map[string]string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/datasets", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		data := []map[string]string{}
		switch r.Header.Get("Authorization") {
		case "Bearer " + sourceKey:
			data = append(data, map[string]string{"id": "s1", "name": "Handbook"})
		case "Bearer " + targetKey:
			data = append(data, target...)
		default:
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data, "has_more": false})
	})
	mux.HandleFunc("POST /v1/datasets", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		defer mu.Unlock()
		ds := map[string]string{"id": fmt.Sprintf("t%d", len(target)+1), "name": body["name"].(string)}
		target = append(target, ds)
		json.NewEncoder(w).Encode(ds)
	})
	mux.HandleFunc("GET /v1/datasets/{id}/documents", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}, "has_more": false})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func writeConfig(t *testing.T, url, targetAPIKey string) (configPath, envPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	cfg := fmt.Sprintf(`sources:
  - label: prod
    base_url: %[1]s/v1
    api_key: %[2]s
target:
  base_url: %[1]s/v1
  api_key: %[3]s
migration:
  rate_limit: -1
  retry_attempts: 1
server:
  db_path: %[4]s
logging:
  level: error
`, url, sourceKey, targetAPIKey, filepath.Join(dir, "history.db"))
	configPath = filepath.Join(dir, "config.yaml")
	envPath = filepath.Join(dir, ".env")
	for path, content := range map[string]string{configPath: cfg, envPath: ""} {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return configPath, envPath, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrate_ReportAndHistory(t *testing.T) {
	ts := newFakeDify(t)
	cfg, env, dir := writeConfig(t, ts.URL, targetKey)
	reportPath := filepath.Join(dir, "report.json")

	out, err := execute(t, "migrate", "--config", cfg, "--env-file", env, "--report", reportPath)
	if err != nil {
		t.Fatalf("migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Handbook") || !strings.Contains(out, "created") {
		t.Errorf("output missing the created dataset:\n%s", out)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var report models.MigrationReport
	if err := json.Unmarshal(data, &report); err != nil || report.RunID == "" {
		t.Fatalf("report = %s (%v)", data, err)
	}

	out, err = execute(t, "history", "--config", cfg, "--env-file", env)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, report.RunID) || !strings.Contains(out, "completed") {
		t.Errorf("history output:\n%s", out)
	}

	out, err = execute(t, "history", "resource", "kb", "Handbook", "--config", cfg, "--env-file", env)
	if err != nil || !strings.Contains(out, "created") {
		t.Errorf("resource history: %v\n%s", err, out)
	}
}

func TestMigrate_DryRun(t *testing.T) {
	ts := newFakeDify(t)
	cfg, env, _ := writeConfig(t, ts.URL, targetKey)

	out, err := execute(t, "migrate", "--dry-run", "--no-history", "--config", cfg, "--env-file", env)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !strings.Contains(out, "Plan: 1 create, 0 reuse, 0 skip, 0 missing") {
		t.Errorf("output:\n%s", out)
	}
	if !strings.Contains(out, "workflow lane will not run") {
		t.Errorf("missing workflow warning:\n%s", out)
	}
}

func TestMigrate_TargetAuthIsFatal(t *testing.T) {
	ts := newFakeDify(t)
	cfg, env, _ := writeConfig(t, ts.URL, "dataset-wrong-key")

	out, err := execute(t, "migrate", "--no-history", "--config", cfg, "--env-file", env)
	if err == nil {
		t.Fatalf("expected a fatal error, output:\n%s", out)
	}
	if !strings.Contains(out, "FATAL") {
		t.Errorf("report should show the fatal error:\n%s", out)
	}
}

func TestValidate_CheckAuth(t *testing.T) {
	ts := newFakeDify(t)
	cfg, env, _ := writeConfig(t, ts.URL, targetKey)
	out, err := execute(t, "validate", "--check-auth", "--config", cfg, "--env-file", env)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration OK: 1 source(s)") {
		t.Errorf("output:\n%s", out)
	}

	cfg, env, _ = writeConfig(t, ts.URL, "dataset-wrong-key")
	if _, err := execute(t, "validate", "--check-auth", "--config", cfg, "--env-file", env); err == nil {
		t.Error("expected failure for a bad target key")
	}
}

func TestParseKinds(t *testing.T) {
	tests := []struct {
		in      []string
		want    []models.Kind
		wantErr bool
	}{
		{nil, nil, false},
		{[]string{"kb"}, []models.Kind{models.KindKnowledgeBase}, false},
		{[]string{"workflow", "datasets"}, []models.Kind{models.KindWorkflow, models.KindKnowledgeBase}, false},
		{[]string{"users"}, nil, true},
	}
	for _, tt := range tests {
		got, err := parseKinds(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseKinds(%v) err = %v", tt.in, err)
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("parseKinds(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
