package api_test

import (
	"bytes"
	"context"
	gosql "database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"

	"github.com/kamalhaddad/texttovideo-orchestrator/api"
	"github.com/kamalhaddad/texttovideo-orchestrator/gpu"
	"github.com/kamalhaddad/texttovideo-orchestrator/metrics"
	"github.com/kamalhaddad/texttovideo-orchestrator/store/redisqueue"
	"github.com/kamalhaddad/texttovideo-orchestrator/store/sqlstore"
)

type zeroActive struct{}

func (zeroActive) ActiveJobs() int { return 0 }

type testDeps struct {
	store *sqlstore.Store
	queue *redisqueue.Queue
}

func newTestDeps(t *testing.T) testDeps {
	t.Helper()
	sqlDB, err := gosql.Open("sqlite", "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	if err := sqlstore.InitDB(context.Background(), db); err != nil {
		t.Fatal(err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return testDeps{
		store: sqlstore.New(db),
		queue: redisqueue.New(client, "orchestrator:queue"),
	}
}

func startTestServer(t *testing.T, addr string, deps testDeps) {
	t.Helper()
	gpuReg := gpu.NewRegistry(2)
	s := api.New(deps.store, deps.queue, gpuReg, zeroActive{}, metrics.New(), &api.Config{
		Addr: addr,
	}, slog.Default())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop(time.Second) })
	time.Sleep(20 * time.Millisecond)
}

func TestSubmitOverHTTP(t *testing.T) {
	deps := newTestDeps(t)
	const addr = "127.0.0.1:18180"
	startTestServer(t, addr, deps)

	body := []byte(`{"prompt":"a cat riding a bicycle"}`)
	resp, err := http.Post("http://"+addr+"/api/jobs/submit", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var decoded map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["status"] != "pending" {
		t.Fatalf("expected pending status, got %v", decoded)
	}

	n, err := deps.queue.Length(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected job enqueued, length=%d", n)
	}
}

func TestSubmitRejectsUnknownFields(t *testing.T) {
	deps := newTestDeps(t)
	const addr = "127.0.0.1:18181"
	startTestServer(t, addr, deps)

	body := []byte(`{"prompt":"x","bogus_field":1}`)
	resp, err := http.Post("http://"+addr+"/api/jobs/submit", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStatusNotFound(t *testing.T) {
	deps := newTestDeps(t)
	const addr = "127.0.0.1:18182"
	startTestServer(t, addr, deps)

	resp, err := http.Get("http://" + addr + "/api/jobs/00000000-0000-0000-0000-000000000000/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthReportsStoreReachability(t *testing.T) {
	deps := newTestDeps(t)
	const addr = "127.0.0.1:18183"
	startTestServer(t, addr, deps)

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSystemStatusReportsGPUAndQueue(t *testing.T) {
	deps := newTestDeps(t)
	const addr = "127.0.0.1:18184"
	startTestServer(t, addr, deps)

	resp, err := http.Get("http://" + addr + "/api/system/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if int(decoded["available_gpus"].(float64)) != 2 {
		t.Fatalf("expected 2 available gpus, got %v", decoded["available_gpus"])
	}
	if int(decoded["queue_length"].(float64)) != 0 {
		t.Fatalf("expected empty queue, got %v", decoded["queue_length"])
	}
}
