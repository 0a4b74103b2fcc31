package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vaultmind/vaultmind/internal/app"
	"github.com/vaultmind/vaultmind/internal/clients/localembed"
	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/events"
	"github.com/vaultmind/vaultmind/internal/models"
	"github.com/vaultmind/vaultmind/internal/services/jobqueue"
	"github.com/vaultmind/vaultmind/internal/services/pipeline"
	"github.com/vaultmind/vaultmind/internal/services/registry"
	"github.com/vaultmind/vaultmind/internal/services/search"
	"github.com/vaultmind/vaultmind/internal/services/watcher"
	"github.com/vaultmind/vaultmind/internal/storage"
)

// newTestServer assembles the full service graph on temporary storage. The
// queue dispatcher stays stopped so enqueued jobs remain inspectable.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := common.NewSilentLogger()

	cfg := common.NewDefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Embedding.Provider = "local"

	store, err := storage.NewManager(logger, cfg)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	bus := events.NewBus(logger)
	t.Cleanup(func() {
		bus.Stop()
		store.Close()
	})

	embedder := localembed.NewClient(cfg.Embedding.Dimension)
	queue := jobqueue.NewManager(store.JobStore(), bus, logger, cfg.Queue)
	registryService := registry.NewService(store, queue, logger, cfg)
	pipeline.NewService(store, embedder, logger, cfg).Register(queue, registryService.ApplyJobResult)

	a := &app.App{
		Config:        cfg,
		Logger:        logger,
		Storage:       store,
		Embedder:      embedder,
		Bus:           bus,
		Jobs:          queue,
		Registry:      registryService,
		SearchService: search.NewService(store, embedder, logger),
		Watcher:       watcher.NewService(store, queue, logger, cfg),
		StartupTime:   time.Now(),
	}

	ts := httptest.NewServer(NewServer(a).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newVaultDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".obsidian"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createCollection(t *testing.T, ts *httptest.Server, name string) string {
	t.Helper()
	vault := newVaultDir(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/collections", CreateCollectionRequest{
		Name:       name,
		SourcePath: vault,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %v", resp.StatusCode, body)
	}
	return vault
}

func cancelCollectionJobs(t *testing.T, ts *httptest.Server, name string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/collections/"+name+"/jobs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list jobs = %d", resp.StatusCode)
	}
	jobs, _ := body["jobs"].([]interface{})
	for _, item := range jobs {
		job := item.(map[string]interface{})
		if models.IsTerminal(job["status"].(string)) {
			continue
		}
		id := job["id"].(string)
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/jobs/"+id+"/cancel", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("cancel job %s = %d", id, resp.StatusCode)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v", body["status"])
	}
	if _, ok := body["queue"]; !ok {
		t.Error("health response should include queue stats")
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("responses should carry a correlation id")
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/health = %d", resp.StatusCode)
	}
}

func TestVersionAndConfigEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/version", nil)
	if resp.StatusCode != http.StatusOK || body["version"] == "" {
		t.Errorf("version = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/config", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config = %d", resp.StatusCode)
	}
	embedding, _ := body["embedding"].(map[string]interface{})
	if embedding["provider"] != "local" {
		t.Errorf("config embedding = %v", embedding)
	}
	// the API key never leaves the process
	raw, _ := json.Marshal(body)
	if strings.Contains(string(raw), "api_key") {
		t.Error("config response leaks credential fields")
	}
}

func TestCollectionCreateAndGet(t *testing.T) {
	ts := newTestServer(t)
	createCollection(t, ts, "notes")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/collections/notes", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d", resp.StatusCode)
	}
	if body["name"] != "notes" {
		t.Errorf("name = %v", body["name"])
	}
	// the initial index job is pending, so the derived status shows it
	if body["status"] != models.DerivedIndexing {
		t.Errorf("status = %v", body["status"])
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/collections", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d", resp.StatusCode)
	}
	collections, _ := body["collections"].([]interface{})
	if len(collections) != 1 {
		t.Errorf("listed %d collections", len(collections))
	}
	if _, ok := body["pagination"]; !ok {
		t.Error("list response should include pagination meta")
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/collections/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown collection = %d", resp.StatusCode)
	}
}

func TestCollectionCreateValidation(t *testing.T) {
	ts := newTestServer(t)
	vault := newVaultDir(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/collections", CreateCollectionRequest{
		Name:       "bad name!",
		SourcePath: vault,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid name = %d", resp.StatusCode)
	}

	createCollection(t, ts, "notes")
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/collections", CreateCollectionRequest{
		Name:       "notes",
		SourcePath: vault,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate name = %d", resp.StatusCode)
	}
}

func TestCollectionConfigPatch(t *testing.T) {
	ts := newTestServer(t)
	createCollection(t, ts, "notes")

	resp, body := doJSON(t, http.MethodPatch, ts.URL+"/api/collections/notes",
		map[string]interface{}{"chunk_overlap": 100})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch = %d: %v", resp.StatusCode, body)
	}
	config, _ := body["config"].(map[string]interface{})
	if config["chunk_overlap"] != float64(100) {
		t.Errorf("chunk_overlap = %v", config["chunk_overlap"])
	}

	resp, _ = doJSON(t, http.MethodPatch, ts.URL+"/api/collections/notes",
		map[string]interface{}{"chunk_size": -5})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid patch = %d", resp.StatusCode)
	}
}

func TestCollectionConfigEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createCollection(t, ts, "notes")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/collections/notes/config", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get config = %d", resp.StatusCode)
	}
	if body["chunk_size"] != float64(1000) {
		t.Errorf("chunk_size = %v", body["chunk_size"])
	}

	resp, body = doJSON(t, http.MethodPatch, ts.URL+"/api/collections/notes/config",
		map[string]interface{}{"chunk_overlap": 120})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch config = %d: %v", resp.StatusCode, body)
	}
	config, _ := body["config"].(map[string]interface{})
	if config["chunk_overlap"] != float64(120) {
		t.Errorf("chunk_overlap = %v", config["chunk_overlap"])
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/collections/missing/config", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown collection config = %d", resp.StatusCode)
	}
}

func TestCollectionJobControls(t *testing.T) {
	ts := newTestServer(t)
	createCollection(t, ts, "notes")

	// the initial index job is pending, which is active but not pausable
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/collections/notes/pause", nil)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("pause pending = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/collections/notes/cancel", nil)
	if resp.StatusCode != http.StatusOK || body["cancelled"] != true {
		t.Fatalf("cancel = %d %v", resp.StatusCode, body)
	}
	if id, _ := body["job_id"].(string); id == "" {
		t.Error("cancel should return the job id")
	}

	// nothing active anymore: every control reports the failed precondition
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/collections/notes/pause", nil)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("pause with no active job = %d", resp.StatusCode)
	}
	if body["code"] != common.CodePreconditionFailed {
		t.Errorf("pause with no active job code = %v", body["code"])
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/collections/notes/cancel", nil)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("cancel with no active job = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/collections/notes/resume", nil)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("resume with no active job = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/collections/missing/pause", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("pause unknown collection = %d", resp.StatusCode)
	}
}

func TestCollectionDeleteFlow(t *testing.T) {
	ts := newTestServer(t)
	createCollection(t, ts, "notes")
	cancelCollectionJobs(t, ts, "notes")

	// no token, no delete
	resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/api/collections/notes", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("delete without token = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/collections/notes/deletion-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token = %d", resp.StatusCode)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("empty deletion token")
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/collections/notes?token=wrong", nil)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("wrong token = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/api/collections/notes?token="+token, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("delete = %d: %v", resp.StatusCode, body)
	}
	if id, _ := body["job_id"].(string); id == "" {
		t.Error("delete should return the job id")
	}
}

func TestReindexEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createCollection(t, ts, "notes")

	// the pending index job blocks a second job for the collection
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/collections/notes/reindex", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("reindex during index = %d", resp.StatusCode)
	}

	cancelCollectionJobs(t, ts, "notes")
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/collections/notes/reindex",
		map[string]interface{}{"force": true})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("reindex = %d: %v", resp.StatusCode, body)
	}
	if id, _ := body["job_id"].(string); id == "" {
		t.Error("reindex should return the job id")
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/collections/missing/reindex", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reindex unknown = %d", resp.StatusCode)
	}
}

func TestSearchEndpointErrors(t *testing.T) {
	ts := newTestServer(t)
	createCollection(t, ts, "notes")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/collections/missing/search",
		models.SearchRequest{Query: "q"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown collection = %d", resp.StatusCode)
	}

	// created but never indexed: the namespace does not exist yet
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/collections/notes/search",
		models.SearchRequest{Query: "q"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unindexed search = %d", resp.StatusCode)
	}
	if body["code"] != common.CodeNotFound {
		t.Errorf("unindexed search code = %v", body["code"])
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/collections/notes/search",
		models.SearchRequest{Query: ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty query = %d", resp.StatusCode)
	}
}

func TestJobEndpoints(t *testing.T) {
	ts := newTestServer(t)
	createCollection(t, ts, "notes")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/collections/notes/jobs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("collection jobs = %d", resp.StatusCode)
	}
	jobs, _ := body["jobs"].([]interface{})
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	jobID := jobs[0].(map[string]interface{})["id"].(string)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/jobs/"+jobID, nil)
	if resp.StatusCode != http.StatusOK || body["id"] != jobID {
		t.Errorf("get job = %d %v", resp.StatusCode, body["id"])
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/jobs/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job = %d", resp.StatusCode)
	}

	// a pending job cannot be paused or resumed: precondition, not conflict
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/jobs/"+jobID+"/pause", nil)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("pause pending = %d", resp.StatusCode)
	}
	if body["code"] != common.CodePreconditionFailed {
		t.Errorf("pause pending code = %v", body["code"])
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/jobs/"+jobID+"/resume", nil)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("resume pending = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/jobs/"+jobID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK || body["cancelled"] != true {
		t.Errorf("cancel = %d %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/jobs/"+jobID+"/cancel", nil)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("cancel terminal = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/jobs/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats = %d", resp.StatusCode)
	}
	if _, ok := body["max_concurrent"]; !ok {
		t.Errorf("stats = %v", body)
	}
}

func TestWatcherEndpoints(t *testing.T) {
	ts := newTestServer(t)
	vault := createCollection(t, ts, "notes")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/watcher/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["running"] != false {
		t.Errorf("running = %v", body["running"])
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/watcher/watches", models.WatchConfig{
		Name: "notes",
		Path: vault,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add watch = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/watcher/watches", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list watches = %d", resp.StatusCode)
	}
	watches, _ := body["watches"].([]interface{})
	if len(watches) != 1 {
		t.Errorf("watches = %d", len(watches))
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/watcher/watches/notes", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("remove watch = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/watcher/watches/notes", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeat remove = %d", resp.StatusCode)
	}
}

func TestWatcherStartStop(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/watcher/start", nil)
	if resp.StatusCode != http.StatusOK || body["running"] != true {
		t.Fatalf("start = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/watcher/status", nil)
	if resp.StatusCode != http.StatusOK || body["running"] != true {
		t.Errorf("status after start = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/watcher/stop", nil)
	if resp.StatusCode != http.StatusOK || body["running"] != false {
		t.Errorf("stop = %d %v", resp.StatusCode, body)
	}
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	ts := newTestServer(t)
	createCollection(t, ts, "notes")

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/collections/notes/bogus", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown sub-resource = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/collections", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("DELETE collection list = %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); !strings.Contains(allow, "POST") {
		t.Errorf("Allow header = %q", allow)
	}
}

func TestGlobalWebSocket(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event models.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read: %v", err)
	}
	if event.Type != models.EventConnectionEstablished {
		t.Errorf("first event = %s", event.Type)
	}

	// ping round-trip
	if err := conn.WriteJSON(models.ClientCommand{Action: models.ActionPing}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if event.Type != models.EventCommandResult {
		t.Errorf("pong event = %s", event.Type)
	}
}

func TestCollectionWebSocketReceivesEvents(t *testing.T) {
	ts := newTestServer(t)
	createCollection(t, ts, "notes")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/collections/notes/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event models.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read: %v", err)
	}
	if event.Type != models.EventConnectionEstablished {
		t.Fatalf("first event = %s", event.Type)
	}

	// cancelling the pending index job publishes on the collection topic
	cancelCollectionJobs(t, ts, "notes")
	for {
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read status change: %v", err)
		}
		if event.Type == models.EventStatusChange && event.Collection == "notes" {
			break
		}
	}

	// the websocket path rejects unknown collections outright
	badURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/collections/missing/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(badURL, nil); err == nil {
		t.Error("dial to unknown collection should fail")
	} else if resp != nil && resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake status = %d", resp.StatusCode)
	}
}
