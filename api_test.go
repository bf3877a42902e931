package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"scanbridge/bridge"
	"scanbridge/foldersync"
	"scanbridge/logger"
	"scanbridge/pairing"
	"scanbridge/storage"
)

func newTestBridge(t *testing.T) (*Bridge, *http.ServeMux) {
	t.Helper()

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := logger.New(logger.ERROR, t.TempDir(), 100)
	log.SetConsoleOutput(false)

	session := pairing.NewManager(&pairing.MemoryStore{}, "1.2.0", "Bridge on testhost")
	cfg := defaultConfig()

	b := NewBridge(cfg, "1.2.0", log, store, session)
	t.Cleanup(b.Shutdown)

	mux := http.NewServeMux()
	b.registerRoutes(mux)
	return b, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	var decoded map[string]interface{}
	if ct := rr.Header().Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not valid JSON: %v\n%s", err, rr.Body.String())
		}
	}
	return rr, decoded
}

func TestStatusEndpoint(t *testing.T) {
	_, mux := newTestBridge(t)

	rr, body := doJSON(t, mux, http.MethodGet, "/api/v1/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["version"] != "1.2.0" {
		t.Errorf("version = %v", body["version"])
	}
	if body["connected"] != false {
		t.Errorf("connected = %v, want false before pairing", body["connected"])
	}
	fs, ok := body["folder_sync"].(map[string]interface{})
	if !ok {
		t.Fatalf("folder_sync missing: %v", body)
	}
	if fs["state"] != string(foldersync.StateStopped) {
		t.Errorf("folder sync state = %v", fs["state"])
	}
}

func TestStatusEndpointMethod(t *testing.T) {
	_, mux := newTestBridge(t)
	rr, _ := doJSON(t, mux, http.MethodPost, "/api/v1/status", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestVersionEndpoint(t *testing.T) {
	_, mux := newTestBridge(t)
	rr, body := doJSON(t, mux, http.MethodGet, "/api/v1/version", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["version"] != "1.2.0" {
		t.Errorf("version = %v", body["version"])
	}
}

func TestPairEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/scanner/bridge/register":
			json.NewEncoder(w).Encode(bridge.RegisterResponse{
				BridgeID:   "br-1",
				APIKey:     "key-1",
				TenantName: "Acme GmbH",
			})
		case "/api/scanner/bridge/scanners":
			w.Write([]byte("{}"))
		default:
			w.Write([]byte("{}"))
		}
	}))
	defer srv.Close()

	_, mux := newTestBridge(t)

	code := fmt.Sprintf(`{"v":1,"server_url":%q,"token":"tok"}`, srv.URL)
	payload := fmt.Sprintf(`{"pairing_code":%q}`, code)
	rr, body := doJSON(t, mux, http.MethodPost, "/api/v1/pair", payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if body["connected"] != true {
		t.Errorf("connected = %v after pairing", body["connected"])
	}
	if body["tenant_name"] != "Acme GmbH" {
		t.Errorf("tenant_name = %v", body["tenant_name"])
	}
}

func TestPairEndpointErrorMapping(t *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pairing code expired", http.StatusForbidden)
	}))
	defer rejecting.Close()

	_, mux := newTestBridge(t)

	rr, _ := doJSON(t, mux, http.MethodPost, "/api/v1/pair", `{"pairing_code":"{not json"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed code: status = %d, want 400", rr.Code)
	}

	code := fmt.Sprintf(`{"v":1,"server_url":%q,"token":"tok"}`, rejecting.URL)
	rr, body := doJSON(t, mux, http.MethodPost, "/api/v1/pair", fmt.Sprintf(`{"pairing_code":%q}`, code))
	if rr.Code != http.StatusForbidden {
		t.Errorf("rejected code: status = %d, want 403", rr.Code)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "expired") {
		t.Errorf("error message lost the server detail: %v", body["error"])
	}

	// Nothing is listening on this port.
	code = `{"v":1,"server_url":"http://127.0.0.1:1","token":"tok"}`
	rr, _ = doJSON(t, mux, http.MethodPost, "/api/v1/pair", fmt.Sprintf(`{"pairing_code":%q}`, code))
	if rr.Code != http.StatusBadGateway {
		t.Errorf("unreachable server: status = %d, want 502", rr.Code)
	}
}

func TestFolderSyncEndpoints(t *testing.T) {
	_, mux := newTestBridge(t)
	dir := t.TempDir()

	rr, _ := doJSON(t, mux, http.MethodPost, "/api/v1/foldersync/configure",
		`{"watch_path":"/does/not/exist","post_action":"move"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid path: status = %d, want 400", rr.Code)
	}

	payload := fmt.Sprintf(`{"watch_path":%q,"post_action":"keep"}`, dir)
	rr, body := doJSON(t, mux, http.MethodPost, "/api/v1/foldersync/configure", payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("configure: status = %d: %s", rr.Code, rr.Body.String())
	}
	if body["state"] != string(foldersync.StateRunning) {
		t.Errorf("state = %v after configure", body["state"])
	}

	// Reconfiguring a running engine conflicts.
	rr, _ = doJSON(t, mux, http.MethodPost, "/api/v1/foldersync/configure", payload)
	if rr.Code != http.StatusConflict {
		t.Fatalf("reconfigure while running: status = %d, want 409", rr.Code)
	}

	rr, body = doJSON(t, mux, http.MethodPost, "/api/v1/foldersync/stop", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stop: status = %d", rr.Code)
	}
	if body["state"] != string(foldersync.StateStopped) {
		t.Errorf("state = %v after stop", body["state"])
	}

	rr, body = doJSON(t, mux, http.MethodGet, "/api/v1/foldersync/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: status = %d", rr.Code)
	}
	if body["state"] != string(foldersync.StateStopped) {
		t.Errorf("state = %v", body["state"])
	}
}

func TestDisconnectEndpoint(t *testing.T) {
	_, mux := newTestBridge(t)

	rr, body := doJSON(t, mux, http.MethodPost, "/api/v1/disconnect", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["connected"] != false {
		t.Errorf("connected = %v after disconnect", body["connected"])
	}
}

func TestDiscoverEndpointTimeoutValidation(t *testing.T) {
	_, mux := newTestBridge(t)

	for _, v := range []string{"0", "-5", "121", "abc"} {
		rr, _ := doJSON(t, mux, http.MethodPost, "/api/v1/discover?timeout="+v, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("timeout=%s: status = %d, want 400", v, rr.Code)
		}
	}
}
