package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/crsql-harness/internal/infrastructure/config"
	"github.com/nerrad567/crsql-harness/internal/infrastructure/influxdb"
)

const (
	testOrg    = "crsql"
	testBucket = "crsql"
	testSite   = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
)

// fakeServer answers /ping and records line protocol posted to /api/v2/write.
type fakeServer struct {
	*httptest.Server

	mu          sync.Mutex
	pingStatus  int
	writeStatus int
	lines       []string
	queries     []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{pingStatus: http.StatusNoContent, writeStatus: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/ping", "/health":
		w.WriteHeader(f.pingStatus)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		f.queries = append(f.queries, r.URL.RawQuery)
		if f.writeStatus != http.StatusNoContent {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.writeStatus)
			_, _ = io.WriteString(w, `{"code":"not found","message":"bucket \"crsql\" not found"}`)
			return
		}
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) setPingStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingStatus = status
}

func (f *fakeServer) setWriteStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeStatus = status
}

func (f *fakeServer) received() (lines, queries []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...), append([]string(nil), f.queries...)
}

// configFor returns a configuration pointing at url.
func configFor(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "crsql-dev-token",
		Org:           testOrg,
		Bucket:        testBucket,
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, f *fakeServer) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(configFor(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ─── Connection ─────────────────────────────────────────────────────────────

func TestConnect(t *testing.T) {
	client := connect(t, newFakeServer(t))

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestConnect_Errors(t *testing.T) {
	unhealthy := newFakeServer(t)
	unhealthy.setPingStatus(http.StatusServiceUnavailable)

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	disabled := configFor(unhealthy.URL)
	disabled.Enabled = false

	tests := []struct {
		name string
		cfg  config.InfluxDBConfig
		want error
	}{
		{name: "disabled", cfg: disabled, want: influxdb.ErrDisabled},
		{name: "unreachable", cfg: configFor(closed.URL), want: influxdb.ErrConnectionFailed},
		{name: "unhealthy", cfg: configFor(unhealthy.URL), want: influxdb.ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := influxdb.Connect(tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
			if client != nil {
				t.Error("Connect() returned a client along with an error")
			}
		})
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeServer(t)
	cfg := configFor(f.URL)
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsConnected() {
		t.Error("IsConnected() = false with default batch settings")
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFakeServer(t)
	client := connect(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	f.setPingStatus(http.StatusServiceUnavailable)
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() error = nil while the server is unavailable")
	}

	client.Close() //nolint:errcheck // Closing is the point of the test
	if err := client.HealthCheck(ctx); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

// ─── Writes ─────────────────────────────────────────────────────────────────

// TestWrites_ReachServer follows one relay session's telemetry to the bucket.
func TestWrites_ReachServer(t *testing.T) {
	f := newFakeServer(t)
	client := connect(t, f)

	var mu sync.Mutex
	var writeErrs []error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErrs = append(writeErrs, err)
		mu.Unlock()
	})

	client.WriteSessionEvent("todo-app", "open", 0)
	client.WriteSyncBatch("todo-app", "outbound", testSite, 3, 7)
	client.WriteSyncBatch("todo-app", "inbound", testSite, 2, 4)
	client.Flush()

	waitFor(t, "three points", func() bool {
		lines, _ := f.received()
		return len(lines) == 3
	})

	lines, queries := f.received()
	wantPrefixes := []string{
		"crsql_session,db_id=todo-app,event=open db_version=0i ",
		"crsql_sync,db_id=todo-app,direction=outbound,site_id=" + testSite + " changes=3i,db_version=7i ",
		"crsql_sync,db_id=todo-app,direction=inbound,site_id=" + testSite + " changes=2i,db_version=4i ",
	}
	for i, want := range wantPrefixes {
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], want)
		}
	}
	for _, q := range queries {
		if !strings.Contains(q, "org="+testOrg) || !strings.Contains(q, "bucket="+testBucket) {
			t.Errorf("write query %q does not name org and bucket", q)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(writeErrs) > 0 {
		t.Errorf("write errors: %v", writeErrs)
	}
}

func TestWrites_RejectedReportsError(t *testing.T) {
	f := newFakeServer(t)
	f.setWriteStatus(http.StatusNotFound)
	client := connect(t, f)

	errs := make(chan error, 4)
	client.SetOnError(func(err error) { errs <- err })

	client.WriteSyncBatch("todo-app", "outbound", testSite, 1, 1)
	client.Flush()

	select {
	case err := <-errs:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no write error reported for a rejected write")
	}
}

func TestWrites_AfterCloseDropped(t *testing.T) {
	f := newFakeServer(t)
	client := connect(t, f)

	client.WriteSyncBatch("todo-app", "outbound", testSite, 1, 1)
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	waitFor(t, "flush on close", func() bool {
		lines, _ := f.received()
		return len(lines) == 1
	})

	client.WriteSessionEvent("todo-app", "close", 1)
	client.Flush()

	if lines, _ := f.received(); len(lines) != 1 {
		t.Errorf("server holds %d points, want only the one written before Close", len(lines))
	}
}

// TestWrites_LiveServer writes to the InfluxDB from docker-compose.yml.
func TestWrites_LiveServer(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to write to a local InfluxDB")
	}

	client, err := influxdb.Connect(configFor("http://127.0.0.1:8086"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	errs := make(chan error, 4)
	client.SetOnError(func(err error) { errs <- err })

	client.WriteSyncBatch("influx-test", "outbound", testSite, 3, 7)
	client.WriteSessionEvent("influx-test", "open", 0)
	client.Flush()

	select {
	case err := <-errs:
		t.Errorf("write error: %v", err)
	case <-time.After(500 * time.Millisecond):
	}
}
