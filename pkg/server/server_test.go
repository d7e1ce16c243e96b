package server

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillgate/skillgate/pkg/catalog"
	"github.com/skillgate/skillgate/pkg/engine"
	"github.com/skillgate/skillgate/pkg/generator"
)

func doc(frontmatter, body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte("---\n" + frontmatter + "---\n" + body + "\n")}
}

func serverFS() fstest.MapFS {
	return fstest.MapFS{
		"report.md": doc(`id: report
description: Draft a status report from raw notes
triggers:
  invocations: [report]
  keywords: [status, report]
inputs:
  required:
    - name: notes
      purpose: raw notes the report is built from
output:
  sections:
    - heading: Summary
      required: true
`, "Draft a status report from these notes:\n\n{{.notes}}"),
		"release-notes.md": doc(`id: release-notes
description: Write release notes from a changelog
triggers:
  keywords: [release, changelog]
`, "Write release notes."),
	}
}

const reportResponse = "## Summary\n\nShipped v2.\n"

// newTestServer builds a server over a loaded corpus and a scripted
// generator. The reload corpus defaults to the same fixture.
func newTestServer(t *testing.T, corpus fs.FS, responses ...string) *Server {
	t.Helper()

	store := catalog.NewStore()
	_, err := store.Reload(context.Background(), serverFS())
	require.NoError(t, err)

	if corpus == nil {
		corpus = serverFS()
	}

	eng := engine.New(store, generator.NewStatic(responses...))
	srv, err := NewServer(eng, corpus, &Config{Host: "127.0.0.1", Port: 8080})
	require.NoError(t, err)
	return srv
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name          string
		config        *Config
		expectedError string
	}{
		{
			name:   "valid config",
			config: &Config{Host: "localhost", Port: 8080},
		},
		{
			name:          "empty host",
			config:        &Config{Host: "", Port: 8080},
			expectedError: "host cannot be empty",
		},
		{
			name:          "invalid port - too low",
			config:        &Config{Host: "localhost", Port: 0},
			expectedError: "port must be between 1 and 65535",
		},
		{
			name:          "invalid port - too high",
			config:        &Config{Host: "localhost", Port: 65536},
			expectedError: "port must be between 1 and 65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServer_handleSubmit(t *testing.T) {
	srv := newTestServer(t, nil, reportResponse)

	body := `{"task_text": "report", "attachments": [{"name": "notes", "content": "shipped v2"}]}`
	req := httptest.NewRequest("POST", "/api/submit", strings.NewReader(body))
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result engine.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, engine.KindSuccess, result.Kind)
	assert.Equal(t, reportResponse, result.Response)
	assert.Equal(t, "report", result.Invocation.Definition)
}

func TestServer_handleSubmit_NeedsInput(t *testing.T) {
	srv := newTestServer(t, nil)

	body := `{"task_text": "report"}`
	req := httptest.NewRequest("POST", "/api/submit", strings.NewReader(body))
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	// Needing input is an outcome the caller acts on, not a transport error.
	assert.Equal(t, http.StatusOK, w.Code)

	var result engine.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, engine.KindNeedsInput, result.Kind)
	require.Len(t, result.Missing, 1)
	assert.Equal(t, "notes", result.Missing[0].Name)
}

func TestServer_handleSubmit_BadRequest(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"task_text": `},
		{name: "missing task text", body: `{"attachments": []}`},
		{name: "blank task text", body: `{"task_text": "   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/submit", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			srv.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestServer_handleSubmit_NotReady(t *testing.T) {
	eng := engine.New(catalog.NewStore(), generator.NewStatic())
	srv, err := NewServer(eng, serverFS(), &Config{Host: "127.0.0.1", Port: 8080})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/submit", strings.NewReader(`{"task_text": "report"}`))
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_handleListDefinitions(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/api/definitions", nil)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response CatalogResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, uint64(1), response.Generation)
	assert.NotEmpty(t, response.Fingerprint)
	require.Equal(t, 2, response.Count)

	ids := []string{response.Definitions[0].ID, response.Definitions[1].ID}
	assert.ElementsMatch(t, []string{"report", "release-notes"}, ids)

	for _, summary := range response.Definitions {
		if summary.ID == "report" {
			assert.Equal(t, []string{"notes"}, summary.Required)
			assert.Equal(t, []string{"report"}, summary.Invocations)
		}
	}
}

func TestServer_handleGetDefinition(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/api/definitions/report", nil)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response DefinitionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "report", response.ID)
	assert.Equal(t, "report.md", response.Path)
	assert.Contains(t, response.Body, "{{.notes}}")
}

func TestServer_handleGetDefinition_NotFound(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/api/definitions/nonexistent", nil)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_handleReload(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("POST", "/api/reload", nil)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(2), response["generation"])
	assert.Equal(t, float64(2), response["definitions"])
}

func TestServer_handleReload_RejectsBadCorpus(t *testing.T) {
	badCorpus := fstest.MapFS{
		"broken.md": doc("id: broken\n", "body"),
	}
	srv := newTestServer(t, badCorpus)

	req := httptest.NewRequest("POST", "/api/reload", nil)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var response struct {
		Error      string   `json:"error"`
		Violations []string `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "corpus validation failed", response.Error)
	assert.NotEmpty(t, response.Violations)

	// The previous catalog keeps serving.
	req = httptest.NewRequest("GET", "/api/definitions", nil)
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var listing CatalogResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, uint64(1), listing.Generation)
	assert.Equal(t, 2, listing.Count)
}

func TestServer_handleHealthz(t *testing.T) {
	eng := engine.New(catalog.NewStore(), generator.NewStatic())
	srv, err := NewServer(eng, serverFS(), &Config{Host: "127.0.0.1", Port: 8080})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/healthz", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	_, err = eng.Reload(context.Background(), serverFS())
	require.NoError(t, err)

	req = httptest.NewRequest("GET", "/api/healthz", nil)
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, float64(1), response["generation"])
}

func TestServer_CORSHeaders(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("OPTIONS", "/api/definitions", nil)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
