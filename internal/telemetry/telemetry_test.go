package telemetry

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"exectracker/internal/storage"
	logx "exectracker/pkg/logx"
)

func waitForHTTP(ctx context.Context, url string) (*http.Response, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func startServer(t *testing.T, cfg ServerConfig, health HealthFunc) (*Server, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	srv := NewServer(cfg, health, nopLogger())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	for srv.Addr() == "" {
		select {
		case err := <-done:
			t.Fatalf("Run exited: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}
	return srv, ctx
}

func TestServerEndpoints(t *testing.T) {
	Init()
	IncIngest("inserted")
	srv, ctx := startServer(t, ServerConfig{Addr: "127.0.0.1:0", Pprof: true}, func(context.Context) error { return nil })

	resp, err := waitForHTTP(ctx, "http://"+srv.Addr()+"/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "exectracker_ingest_outcomes_total") {
		t.Fatal("metrics output missing ingest counter")
	}

	resp, err = waitForHTTP(ctx, "http://"+srv.Addr()+"/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = waitForHTTP(ctx, "http://"+srv.Addr()+"/debug/pprof/")
	if err != nil {
		t.Fatalf("pprof: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof status = %d", resp.StatusCode)
	}
}

func TestServerUnhealthy(t *testing.T) {
	srv, ctx := startServer(t, ServerConfig{Addr: "127.0.0.1:0"}, func(context.Context) error { return errors.New("db down") })
	resp, err := waitForHTTP(ctx, "http://"+srv.Addr()+"/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz status = %d, want 503", resp.StatusCode)
	}
	resp, err = waitForHTTP(ctx, "http://"+srv.Addr()+"/debug/pprof/")
	if err != nil {
		t.Fatalf("pprof: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("pprof should be off, status = %d", resp.StatusCode)
	}
}

func TestInstrumentStoreCountsErrors(t *testing.T) {
	Init()
	st := InstrumentStore(failingStore{})
	before := testutil.ToFloat64(StoreErrors.WithLabelValues("insert"))
	if _, err := st.Insert(context.Background(), storage.Record{MessageID: "m"}); err == nil {
		t.Fatal("expected error")
	}
	if got := testutil.ToFloat64(StoreErrors.WithLabelValues("insert")); got != before+1 {
		t.Fatalf("store errors = %v, want %v", got, before+1)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:80":   true,
		"[::1]:9464":     true,
		"0.0.0.0:9464":   false,
		":9464":          false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

type failingStore struct{ storage.Store }

func (failingStore) Insert(context.Context, storage.Record) (bool, error) {
	return false, errors.New("disk full")
}

func nopLogger() logx.Logger { return logx.Nop() }
