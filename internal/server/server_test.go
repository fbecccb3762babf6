package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/robertobartola/mybackrec/internal/audio"
	"github.com/robertobartola/mybackrec/internal/config"
	"github.com/robertobartola/mybackrec/internal/service"
	"github.com/robertobartola/mybackrec/internal/storage"
	"github.com/robertobartola/mybackrec/internal/wav"
)

type silentStream struct{}

func (silentStream) Read(p []byte) (int, error) {
	time.Sleep(100 * time.Microsecond)
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func (silentStream) Close() error { return nil }

type silentBackend struct{}

func (b *silentBackend) Open(format wav.Format, opts audio.StreamOptions) (audio.Stream, error) {
	return silentStream{}, nil
}

func (b *silentBackend) ListDevices() ([]audio.DeviceInfo, error) { return nil, nil }

func (b *silentBackend) GetType() audio.BackendType { return "silent" }

func newTestServer(t *testing.T) (*httptest.Server, *service.Session, *storage.Store) {
	t.Helper()

	cfg := config.Default()
	cfg.Audio.SampleRate = 1000
	cfg.Audio.ChunkBytes = 64
	cfg.Recording.DurationSeconds = 2
	cfg.Recording.MaxDurationSeconds = 10
	cfg.Output.Directory = t.TempDir()

	store := storage.New(cfg.Output.Directory, cfg.Output.Prefix, cfg.Output.TimestampLayout)
	session := service.New(cfg, &silentBackend{}, store)
	ts := httptest.NewServer(New(cfg, session, store).Handler())

	t.Cleanup(func() {
		ts.Close()
		session.Stop()
	})
	return ts, session, store
}

func postForm(t *testing.T, ts *httptest.Server, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(ts.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestStatus_Idle(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	var status StatusResponse
	decodeBody(t, resp, &status)

	if status.Status != string(service.StatusIdle) {
		t.Errorf("status = %s, want IDLE", status.Status)
	}
	if status.Session != nil {
		t.Errorf("session = %+v, want nil", status.Session)
	}
	if status.Format == "" {
		t.Error("format missing from status")
	}
}

func TestStartFreezeStop(t *testing.T) {
	ts, session, store := newTestServer(t)

	resp := postForm(t, ts, "/start", url.Values{"seconds": {"3"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /start status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	status, info := session.Status()
	if status != service.StatusRecording || info.DurationSeconds != 3 {
		t.Fatalf("session = %s %+v, want RECORDING for 3s", status, info)
	}

	resp = postForm(t, ts, "/freeze", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /freeze status = %d", resp.StatusCode)
	}
	var freeze FreezeResponse
	decodeBody(t, resp, &freeze)
	if !freeze.Success || freeze.File == "" {
		t.Errorf("freeze response = %+v", freeze)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), freeze.File)); err != nil {
		t.Errorf("frozen file not on disk: %v", err)
	}

	resp = postForm(t, ts, "/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /stop status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	if status, _ := session.Status(); status != service.StatusIdle {
		t.Errorf("status after stop = %s, want IDLE", status)
	}
}

func TestStart_DefaultDuration(t *testing.T) {
	ts, session, _ := newTestServer(t)

	resp := postForm(t, ts, "/start", nil)
	resp.Body.Close()

	if _, info := session.Status(); info == nil || info.DurationSeconds != 2 {
		t.Errorf("session info = %+v, want configured default of 2 seconds", info)
	}
}

func TestStart_Errors(t *testing.T) {
	tests := []struct {
		name    string
		seconds string
		want    int
	}{
		{"non numeric", "abc", http.StatusBadRequest},
		{"zero", "0", http.StatusBadRequest},
		{"negative", "-1", http.StatusBadRequest},
		{"above maximum", "11", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _, _ := newTestServer(t)

			resp := postForm(t, ts, "/start", url.Values{"seconds": {tt.seconds}})
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var body map[string]interface{}
			decodeBody(t, resp, &body)
			if body["success"] != false || body["error"] == "" {
				t.Errorf("error body = %v", body)
			}
		})
	}
}

func TestStart_AlreadyRecordingConflict(t *testing.T) {
	ts, _, _ := newTestServer(t)

	postForm(t, ts, "/start", nil).Body.Close()
	resp := postForm(t, ts, "/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}
}

func TestFreezeAndStop_WhileIdle(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, path := range []string{"/freeze", "/stop"} {
		resp := postForm(t, ts, path, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("POST %s while idle status = %d, want 409", path, resp.StatusCode)
		}
	}
}

func TestFreezeWav(t *testing.T) {
	ts, session, store := newTestServer(t)

	if err := session.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, info := session.Status(); info.BufferedBytes > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	resp, err := http.Get(ts.URL + "/freeze.wav")
	if err != nil {
		t.Fatalf("GET /freeze.wav: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %s, want audio/wav", ct)
	}
	if _, err := wav.DecodeHeader(resp.Body); err != nil {
		t.Errorf("response is not a wav file: %v", err)
	}

	// Streaming does not save anything
	files, _ := store.List()
	if len(files) != 0 {
		t.Errorf("GET /freeze.wav saved %d files, want 0", len(files))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/start")
	if err != nil {
		t.Fatalf("GET /start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /start status = %d, want 405", resp.StatusCode)
	}
}

func TestFilesAndDownload(t *testing.T) {
	ts, _, store := newTestServer(t)

	path, err := store.Save([]byte("RIFFdata"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	name := filepath.Base(path)

	resp, err := http.Get(ts.URL + "/api/files")
	if err != nil {
		t.Fatalf("GET /api/files: %v", err)
	}
	var files FilesResponse
	decodeBody(t, resp, &files)
	if files.TotalCount != 1 || files.Files[0].Name != name {
		t.Fatalf("files = %+v, want one file %s", files, name)
	}

	resp, err = http.Get(ts.URL + files.Files[0].DownloadURL)
	if err != nil {
		t.Fatalf("GET download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	if body.String() != "RIFFdata" {
		t.Errorf("download body = %q", body.String())
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, name) {
		t.Errorf("Content-Disposition = %s", cd)
	}
}

func TestDownload_Errors(t *testing.T) {
	ts, _, _ := newTestServer(t)

	tests := map[string]int{
		"/api/files/download/":            http.StatusBadRequest,
		"/api/files/download/notes.txt":   http.StatusBadRequest,
		"/api/files/download/missing.wav": http.StatusNotFound,
	}
	for path, want := range tests {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func sendRequest(t *testing.T, ts *httptest.Server, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestDeleteFile(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		file     string // empty targets the saved recording
		wantCode int
		wantGone bool
	}{
		{"saved recording", http.MethodDelete, "", http.StatusOK, true},
		{"missing recording", http.MethodDelete, "missing.wav", http.StatusNotFound, false},
		{"not a wav", http.MethodDelete, "notes.txt", http.StatusBadRequest, false},
		{"hidden file", http.MethodDelete, ".hidden.wav", http.StatusBadRequest, false},
		{"nested path", http.MethodDelete, "sub/take.wav", http.StatusBadRequest, false},
		{"encoded backslash", http.MethodDelete, "sub%5Ctake.wav", http.StatusBadRequest, false},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _, store := newTestServer(t)
			path, err := store.Save([]byte("RIFFdata"))
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			file := tt.file
			if file == "" {
				file = filepath.Base(path)
			}

			resp := sendRequest(t, ts, tt.method, "/api/files/"+file)
			var body map[string]interface{}
			decodeBody(t, resp, &body)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("%s /api/files/%s status = %d, want %d", tt.method, file, resp.StatusCode, tt.wantCode)
			}
			if success, _ := body["success"].(bool); success != (tt.wantCode == http.StatusOK) {
				t.Errorf("success = %v, body %v", body["success"], body)
			}

			files, _ := store.List()
			if gone := len(files) == 0; gone != tt.wantGone {
				t.Errorf("recording removed = %v, want %v", gone, tt.wantGone)
			}
		})
	}
}

func TestClearFiles(t *testing.T) {
	ts, _, store := newTestServer(t)
	for _, payload := range []string{"one", "two"} {
		if _, err := store.Save([]byte(payload)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	resp := sendRequest(t, ts, http.MethodDelete, "/api/files")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /api/files status = %d", resp.StatusCode)
	}
	var deleted DeleteResponse
	decodeBody(t, resp, &deleted)
	if !deleted.Success || deleted.Deleted != 2 {
		t.Errorf("response = %+v, want 2 deleted", deleted)
	}

	resp = sendRequest(t, ts, http.MethodGet, "/api/files")
	var files FilesResponse
	decodeBody(t, resp, &files)
	if files.TotalCount != 0 {
		t.Errorf("TotalCount after clear = %d, want 0", files.TotalCount)
	}
}

func TestStatusCodeFor(t *testing.T) {
	if got := statusCodeFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("statusCodeFor(unknown) = %d, want 500", got)
	}
	if got := statusCodeFor(service.ErrFreezeInProgress); got != http.StatusConflict {
		t.Errorf("statusCodeFor(ErrFreezeInProgress) = %d, want 409", got)
	}
}
