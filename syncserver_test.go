package gtdlog

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestServer(t *testing.T, replicaIDLen int) (*Server, string) {
	t.Helper()
	dataRoot, err := os.MkdirTemp("", "gtdlog-server-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dataRoot) })

	srv := NewServer(dataRoot, replicaIDLen, zap.NewNop(), NewMetrics())
	return srv, dataRoot
}

func provisionToken(t *testing.T, dataRoot, token string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dataRoot, token), 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
}

func TestServer_RejectsUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t, 8)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(pullRequest{Offs: OffsetMap{}})
	resp, err := http.Post(ts.URL+"/gtd/nosuchtokn/pull", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unprovisioned token, got %d", resp.StatusCode)
	}
}

func TestServer_RejectsMalformedToken(t *testing.T) {
	srv, _ := newTestServer(t, 8)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/gtd/short/pull", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed token shape, got %d", resp.StatusCode)
	}
}

func TestServer_PullReturnsMissingData(t *testing.T) {
	const token = "abcdefghij"
	srv, dataRoot := newTestServer(t, 8)
	provisionToken(t, dataRoot, token)

	store, err := OpenLogStore(filepath.Join(dataRoot, token, "data"), filepath.Join(dataRoot, token, "lock"))
	if err != nil {
		t.Fatalf("OpenLogStore: %v", err)
	}
	if err := store.RawWrite("replica1", 0, []byte("abc\n")); err != nil {
		t.Fatalf("RawWrite: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(pullRequest{Offs: OffsetMap{}})
	resp, err := http.Post(ts.URL+"/gtd/"+token+"/pull", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Offs.Get("replica1") != 4 {
		t.Fatalf("expected reported offset 4, got %d", out.Offs.Get("replica1"))
	}
	seg, ok := out.Data["replica1"]
	if !ok || string(seg.Data) != "abc\n" {
		t.Fatalf("expected full segment returned, got %+v", out.Data)
	}
}

func TestServer_PushGraftsData(t *testing.T) {
	const token = "abcdefghij"
	srv, dataRoot := newTestServer(t, 8)
	provisionToken(t, dataRoot, token)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	payload := Payload{"replica1": {Start: 0, Data: []byte("abc\n")}}
	body, _ := json.Marshal(pushRequest{Data: payload})
	resp, err := http.Post(ts.URL+"/gtd/"+token+"/push", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	store, err := OpenLogStore(filepath.Join(dataRoot, token, "data"), filepath.Join(dataRoot, token, "lock"))
	if err != nil {
		t.Fatalf("OpenLogStore: %v", err)
	}
	got, err := store.RawRange("replica1", 0)
	if err != nil {
		t.Fatalf("RawRange: %v", err)
	}
	if string(got) != "abc\n" {
		t.Fatalf("got %q want %q", got, "abc\n")
	}
}

func TestServer_PushRefusesGap(t *testing.T) {
	const token = "abcdefghij"
	srv, dataRoot := newTestServer(t, 8)
	provisionToken(t, dataRoot, token)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	payload := Payload{"replica1": {Start: 50, Data: []byte("abc\n")}}
	body, _ := json.Marshal(pushRequest{Data: payload})
	resp, err := http.Post(ts.URL+"/gtd/"+token+"/push", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a gapped push, got %d", resp.StatusCode)
	}
}
