package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartshopai/provisioner/internal/manifest"
	"smartshopai/provisioner/internal/orchestrator"
)

// recordingEngine accepts every operation and remembers what it saw.
type recordingEngine struct {
	mu          sync.Mutex
	collections []string
	docs        int
}

func (e *recordingEngine) CreatePrincipal(context.Context, manifest.Principal) (orchestrator.Outcome, error) {
	return orchestrator.OutcomeCreated, nil
}

func (e *recordingEngine) SelectNamespace(context.Context, string) (orchestrator.Outcome, error) {
	return orchestrator.OutcomeCreated, nil
}

func (e *recordingEngine) CreateCollection(_ context.Context, ns, name string) (orchestrator.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collections = append(e.collections, ns+"."+name)
	return orchestrator.OutcomeCreated, nil
}

func (e *recordingEngine) CreateIndex(context.Context, manifest.IndexSpec) (orchestrator.Outcome, error) {
	return orchestrator.OutcomeCreated, nil
}

func (e *recordingEngine) InsertDocument(context.Context, string, string, manifest.Document, manifest.SeedMode) (orchestrator.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs++
	return orchestrator.OutcomeCreated, nil
}

func (e *recordingEngine) Close(context.Context) error { return nil }

// staticConnector always hands out the same engine.
type staticConnector struct {
	engine *recordingEngine
}

func (c *staticConnector) Connect(context.Context) (orchestrator.Engine, error) {
	return c.engine, nil
}

func (c *staticConnector) Probe(context.Context) orchestrator.ProbeResult {
	return orchestrator.ProbeResult{Name: "mongo", OK: true, LatencyMs: 1}
}

// TestBootstrapFlow_202ThenReady covers the happy path over HTTP:
//  1. POST /api/v1/bootstrap returns 202
//  2. GET /ready turns 200 once the background run completes
//  3. GET /api/v1/bootstrap/last reports every phase ok
func TestBootstrapFlow_202ThenReady(t *testing.T) {
	t.Parallel()

	m, err := manifest.Default()
	require.NoError(t, err)
	plan, err := m.Resolve(manifest.TopologySingle)
	require.NoError(t, err)

	engine := &recordingEngine{}
	o := orchestrator.New(&staticConnector{engine: engine}, plan)

	router := NewRouter(o, RouterConfig{ServiceName: "smartshopai-provisioner-test", RunTimeout: 5 * time.Second})
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	client := srv.Client()

	resp, err := client.Post(srv.URL+"/api/v1/bootstrap", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "bootstrap should return 202 Accepted")

	var bootstrapBody map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bootstrapBody))
	assert.Equal(t, "accepted", bootstrapBody["status"])

	deadline := time.Now().Add(5 * time.Second)
	var lastCode int
	for time.Now().Before(deadline) {
		r, err := client.Get(srv.URL + "/ready")
		require.NoError(t, err)
		r.Body.Close()

		lastCode = r.StatusCode
		if lastCode == http.StatusOK {
			break
		}

		time.Sleep(50 * time.Millisecond)
	}
	require.Equal(t, http.StatusOK, lastCode, "GET /ready should return 200 after bootstrap completes")

	r, err := client.Get(srv.URL + "/api/v1/bootstrap/last")
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)

	var last struct {
		Status string `json:"status"`
		Phases []struct {
			Name    string `json:"name"`
			Status  string `json:"status"`
			Created int    `json:"created"`
		} `json:"phases"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&last))
	assert.Equal(t, "ok", last.Status)
	require.Len(t, last.Phases, len(orchestrator.PhaseOrder))
	for _, p := range last.Phases {
		assert.Equal(t, "ok", p.Status, p.Name)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Len(t, engine.collections, 22)
	assert.Equal(t, 2, engine.docs)
}
