package main

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
	"syscall"
	"testing"
	"time"

	"github.com/nugget/nokiawifi/internal/nokia"
	"github.com/nugget/nokiawifi/internal/registry"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a
// running serve command.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newRouter serves a fixed device list behind the router's login flow.
func newRouter(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login_app.cgi", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("pswd") != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"cookie":{"sid":"sid=1","lsid":"lsid=2"}}`))
	})
	mux.HandleFunc("/index_app.cgi", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"devices_list":[
			{"MACAddress":"BB:BB:BB:BB:BB:BB","IPAddress":"192.168.1.6","HostName":"laptop","InterfaceType":"Ethernet"},
			{"MACAddress":"aa:aa:aa:aa:aa:aa","IPAddress":"192.168.1.5","HostName":"phone","InterfaceType":"802.11"}
		]}`))
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T, host, password, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf("router:\n  host: %s\n  password: %s\n  scan_interval_sec: 3600\ndata_dir: %s\nlog_level: debug\n", host, password, dataDir)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "https://")
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, &out, args); err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: nokiawifi") {
			t.Errorf("run(%v) output missing usage:\n%s", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"unknown flag", []string{"-x"}, "unknown flag"},
		{"bad output", []string{"-o", "xml", "version"}, "unknown output format"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "devices"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), &out, &out, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run(%v) = %v, want error containing %q", tt.args, err, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "nokiawifi ") || !strings.Contains(out.String(), "go_version:") {
		t.Errorf("unexpected version output:\n%s", out.String())
	}

	out.Reset()
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("version json: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out.String())
	}
	if info["version"] == "" || info["os"] == "" {
		t.Errorf("incomplete info: %v", info)
	}
}

func TestRun_Devices(t *testing.T) {
	srv := newRouter(t)
	cfgPath := writeTestConfig(t, hostOf(srv), "hunter2", t.TempDir())

	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "devices"}); err != nil {
		t.Fatalf("devices: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got:\n%s", out.String())
	}
	if !strings.HasPrefix(lines[1], "aa:aa:aa:aa:aa:aa") || !strings.HasPrefix(lines[2], "bb:bb:bb:bb:bb:bb") {
		t.Errorf("rows not sorted by normalized MAC:\n%s", out.String())
	}
}

func TestRun_DevicesJSON(t *testing.T) {
	srv := newRouter(t)
	cfgPath := writeTestConfig(t, hostOf(srv), "hunter2", t.TempDir())

	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-config=" + cfgPath, "-o=json", "devices"}); err != nil {
		t.Fatalf("devices: %v", err)
	}

	var rows []deviceRow
	if err := json.Unmarshal(out.Bytes(), &rows); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out.String())
	}
	if len(rows) != 2 || rows[0].Name != "phone" || rows[1].ConnectedTo != "Ethernet" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestRun_DevicesWrongPassword(t *testing.T) {
	srv := newRouter(t)
	cfgPath := writeTestConfig(t, hostOf(srv), "wrong", t.TempDir())

	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "devices"})
	if err == nil || !strings.Contains(err.Error(), nokia.ErrAuthFailure.Error()) {
		t.Errorf("err = %v, want auth failure", err)
	}
}

func TestRun_DevicesInvalidConfig(t *testing.T) {
	cfgPath := writeTestConfig(t, "", "", t.TempDir())

	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "devices"})
	if err == nil || !strings.Contains(err.Error(), "router.host") {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestRun_Serve(t *testing.T) {
	srv := newRouter(t)
	dataDir := filepath.Join(t.TempDir(), "db")
	cfgPath := writeTestConfig(t, hostOf(srv), "hunter2", dataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, out, out, []string{"-config", cfgPath, "serve"})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "tracking devices") {
		select {
		case err := <-done:
			t.Fatalf("serve exited early: %v\n%s", err, out.String())
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("serve did not start:\n%s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	if !strings.Contains(out.String(), "new device on router") {
		t.Errorf("new devices not logged:\n%s", out.String())
	}

	entryID, err := registry.LoadOrCreateEntryID(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	store, err := registry.Open(filepath.Join(dataDir, "registry.db"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	defer store.Close()

	entries, err := store.EntriesForConfigEntry(entryID)
	if err != nil {
		t.Fatalf("EntriesForConfigEntry: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("registered %d entries, want 2: %+v", len(entries), entries)
	}
	names := map[string]string{}
	for _, e := range entries {
		names[e.UniqueID] = e.OriginalName
	}
	if names["aa:aa:aa:aa:aa:aa"] != "phone" || names["bb:bb:bb:bb:bb:bb"] != "laptop" {
		t.Errorf("registry names = %v", names)
	}
}

func TestRun_ServeAuthFailure(t *testing.T) {
	srv := newRouter(t)
	cfgPath := writeTestConfig(t, hostOf(srv), "wrong", filepath.Join(t.TempDir(), "db"))

	var out syncBuffer
	err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "serve"})
	if err == nil || !strings.Contains(err.Error(), "set up router") {
		t.Errorf("err = %v, want setup failure", err)
	}
}

// clearUmask sets the process umask to 0 so file permission assertions are
// deterministic. It restores the original umask when the test completes.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := filepath.Join(t.TempDir(), "nokiawifi")
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "db"))
	if err != nil || !info.IsDir() {
		t.Errorf("db directory missing: %v", err)
	}

	cfgInfo, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := cfgInfo.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "router:") {
		t.Errorf("config.yaml does not look like the example:\n%s", data)
	}
}

func TestRunInit_KeepsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("mine\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "mine\n" {
		t.Errorf("existing config overwritten: %q", data)
	}
	if !strings.Contains(buf.String(), "left alone") {
		t.Errorf("output does not mention skipped file:\n%s", buf.String())
	}
}

func TestPrintDevices_Empty(t *testing.T) {
	var out bytes.Buffer
	if err := printDevices(&out, map[string]nokia.Device{}, "json"); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "[]" {
		t.Errorf("empty list = %q, want []", out.String())
	}
}
