package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/sim"
)

// newTestHandler creates a Handler wired with a full in-memory engine.
func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	archive := memory.NewFileArchive(memory.ArchiveConfig{Path: t.TempDir() + "/archive.json"}, logger)
	active := memory.NewActiveStore(memory.DefaultActiveConfig(), archive, logger)
	semantic := memory.NewSemanticStore(logger)
	patterns := memory.NewPatternStore(logger)
	hierarchy := memory.NewHierarchy(
		memory.NewSensoryBuffer(100, logger),
		active,
		semantic,
		patterns,
		memory.DefaultThresholds(),
		logger,
	)

	clock := sim.NewClock(time.Second, 1.0, logger)
	scheduler := sim.NewScheduler(hierarchy, active, patterns, clock, sim.SchedulerConfig{
		DecayFactor:      0.99,
		DecayMinWeight:   0.05,
		ArchiveMaxAge:    6 * 3600,
		MaintenanceEvery: 60,
	}, logger)

	h := NewHandler(hierarchy, active, semantic, clock, scheduler, logger)
	return h, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func putJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("PUT", ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if body["engine"] != "mnemo" {
		t.Errorf("expected engine mnemo, got %q", body["engine"])
	}
}

func TestEventIngestion(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/events", map[string]interface{}{
		"event_type": "sound",
		"intensity":  0.4,
		"data":       map[string]string{"source": "north"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("add event: expected 201, got %d", resp.StatusCode)
	}
	var ev memory.SensoryEvent
	decodeJSON(t, resp, &ev)
	if ev.ID == "" {
		t.Error("expected assigned event ID")
	}

	resp = getJSON(t, ts, "/api/memory/status")
	var status memory.HierarchyStatus
	decodeJSON(t, resp, &status)
	if status.SensoryCount != 1 {
		t.Errorf("sensory count = %d, want 1", status.SensoryCount)
	}

	// Validation
	resp = postJSON(t, ts, "/api/memory/events", map[string]interface{}{"intensity": 0.5})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for missing event_type, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/memory/events", map[string]interface{}{
		"event_type": "sound", "intensity": 1.5,
	})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for out-of-range intensity, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestConsolidateEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts, "/api/memory/events", map[string]interface{}{
			"event_type": "footsteps", "intensity": 0.5,
		})
		resp.Body.Close()
	}

	resp := postJSON(t, ts, "/api/memory/consolidate", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("consolidate: expected 200, got %d", resp.StatusCode)
	}
	var result memory.ConsolidationResult
	decodeJSON(t, resp, &result)
	if !result.Success {
		t.Errorf("consolidation failed: %s", result.Error)
	}
	if result.SensoryPromoted != 1 {
		t.Errorf("sensory_promoted = %d, want 1", result.SensoryPromoted)
	}
}

func TestQueryTierEndpoint(t *testing.T) {
	h, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	h.semantic.AddConcept(memory.Concept{ID: "c1", Name: "foraging", Confidence: 0.8})

	resp := getJSON(t, ts, "/api/memory/query/semantic?query=forag")
	if resp.StatusCode != 200 {
		t.Fatalf("query: expected 200, got %d", resp.StatusCode)
	}
	var result memory.QueryResult
	decodeJSON(t, resp, &result)
	if result.Count != 1 {
		t.Errorf("count = %d, want 1", result.Count)
	}

	resp = getJSON(t, ts, "/api/memory/query/quantum")
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for unknown tier, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestArchiveEndpoint(t *testing.T) {
	h, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	h.active.Append(memory.NewEntry("walk", 0.9, 100))
	h.active.Append(memory.NewEntry("eat", 0.2, 200))
	maxAge := 0.0
	if _, err := h.active.ArchiveOld(memory.ArchiveCriteria{MaxAge: &maxAge}); err != nil {
		t.Fatalf("seed archive: %v", err)
	}

	resp := getJSON(t, ts, "/api/memory/archive?event_type=walk&min_significance=0.5")
	if resp.StatusCode != 200 {
		t.Fatalf("archive query: expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Count   int            `json:"count"`
		Entries []memory.Entry `json:"entries"`
	}
	decodeJSON(t, resp, &body)
	if body.Count != 1 || body.Entries[0].EventType != "walk" {
		t.Errorf("got %+v, want single walk entry", body)
	}

	resp = getJSON(t, ts, "/api/memory/archive?since=abc")
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for malformed since, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestThresholdUpdateClamps(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := putJSON(t, ts, "/api/memory/thresholds", map[string]interface{}{
		"sensory_to_episodic":    0,
		"episodic_to_semantic":   -2,
		"semantic_to_procedural": 7,
		"consolidation_interval": 0.1,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("put thresholds: expected 200, got %d", resp.StatusCode)
	}
	var th memory.Thresholds
	decodeJSON(t, resp, &th)
	if th.SensoryToEpisodic != 1 || th.EpisodicToSemantic != 1 {
		t.Errorf("thresholds = %+v, want counts floored at 1", th)
	}
	if th.SemanticToProcedural != 7 {
		t.Errorf("semantic_to_procedural = %d, want 7", th.SemanticToProcedural)
	}
	if th.ConsolidationInterval != 1.0 {
		t.Errorf("interval = %v, want floored at 1.0", th.ConsolidationInterval)
	}
}

func TestConceptEndpoints(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/concepts", map[string]interface{}{
		"name": "shelter", "description": "a safe place", "confidence": 0.7,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("add concept: expected 201, got %d", resp.StatusCode)
	}
	var c memory.Concept
	decodeJSON(t, resp, &c)
	if c.ID == "" {
		t.Fatal("expected assigned concept ID")
	}

	resp = getJSON(t, ts, "/api/memory/concepts/"+c.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("get concept: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/memory/concepts/nonexistent")
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for missing concept, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Validation
	resp = postJSON(t, ts, "/api/memory/concepts", map[string]interface{}{"confidence": 0.5})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for unnamed concept, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/memory/associations", map[string]interface{}{"source_id": c.ID})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for incomplete association, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestResetEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/events", map[string]interface{}{
		"event_type": "noise", "intensity": 0.3,
	})
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/memory/reset", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("reset: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/memory/status")
	var status memory.HierarchyStatus
	decodeJSON(t, resp, &status)
	if status.SensoryCount != 0 {
		t.Errorf("sensory count = %d, want 0 after reset", status.SensoryCount)
	}
}
