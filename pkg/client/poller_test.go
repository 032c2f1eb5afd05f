package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testPollInterval = 10 * time.Millisecond

// pollServer serves a scripted sequence of batch statuses: each status poll
// advances through the sequence, sticking at the last entry.
type pollServer struct {
	mu       sync.Mutex
	statuses []BatchStatus
	polls    int
	failures map[int]int // poll number -> status code to return

	server *httptest.Server
}

func newPollServer(t *testing.T, statuses ...BatchStatus) *pollServer {
	t.Helper()

	ps := &pollServer{statuses: statuses, failures: make(map[int]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/batches/batch-1", func(w http.ResponseWriter, _ *http.Request) {
		ps.mu.Lock()
		defer ps.mu.Unlock()

		ps.polls++
		if code, ok := ps.failures[ps.polls]; ok {
			w.WriteHeader(code)
			_, _ = fmt.Fprintf(w, `{"error":"scripted failure %d"}`, code)
			return
		}

		idx := ps.polls - 1
		if idx >= len(ps.statuses) {
			idx = len(ps.statuses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ps.statuses[idx])
	})
	mux.HandleFunc("/v1/batches", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"batch-1","status":"complete","totalRows":3,"processedRows":3}]}`))
	})
	mux.HandleFunc("/v1/usage", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"period":"2026-08","used":10,"limit":500,"remaining":490}`))
	})

	ps.server = httptest.NewServer(mux)
	t.Cleanup(ps.server.Close)
	return ps
}

func (ps *pollServer) pollCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.polls
}

func batchStatus(status string, processed int) BatchStatus {
	return BatchStatus{Batch: Batch{ID: "batch-1", Status: status, TotalRows: 3, ProcessedRows: processed}}
}

func newTestPoller(t *testing.T, baseURL string) *Poller {
	t.Helper()

	c, err := New(baseURL, "tok-1")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p, err := NewPoller(c, testPollInterval, nil)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPollerNotifiesTerminalExactlyOnce(t *testing.T) {
	t.Parallel()

	ps := newPollServer(t,
		batchStatus("processing", 1),
		batchStatus("processing", 2),
		batchStatus("complete", 3),
	)
	poller := newTestPoller(t, ps.server.URL)

	var updates, dones atomic.Int64
	var usages atomic.Int64
	doneCh := make(chan struct{})

	poller.Watch(context.Background(), "batch-1", WatchHandlers{
		OnUpdate: func(*BatchStatus) { updates.Add(1) },
		OnUsage:  func(*Usage) { usages.Add(1) },
		OnDone: func(status *BatchStatus) {
			dones.Add(1)
			if status.Status != "complete" {
				t.Errorf("terminal status = %s, want complete", status.Status)
			}
			close(doneCh)
		},
	})

	waitFor(t, doneCh, "terminal notification")
	poller.Close()

	if got := dones.Load(); got != 1 {
		t.Fatalf("terminal notifications = %d, want exactly 1", got)
	}
	if got := updates.Load(); got != 3 {
		t.Fatalf("updates = %d, want 3", got)
	}
	if usages.Load() == 0 {
		t.Fatal("usage was never refreshed")
	}

	// The loop stopped at terminal; no further polls after Close settles.
	settled := ps.pollCount()
	time.Sleep(5 * testPollInterval)
	if got := ps.pollCount(); got != settled {
		t.Fatalf("polls continued after terminal state: %d -> %d", settled, got)
	}
}

func TestPollerSwallowsTransientErrors(t *testing.T) {
	t.Parallel()

	ps := newPollServer(t,
		batchStatus("processing", 1),
		batchStatus("complete", 3),
	)
	// Second poll fails with a 500; the loop must keep going.
	ps.failures[2] = http.StatusInternalServerError

	poller := newTestPoller(t, ps.server.URL)

	doneCh := make(chan struct{})
	var stopped atomic.Int64

	poller.Watch(context.Background(), "batch-1", WatchHandlers{
		OnDone:    func(*BatchStatus) { close(doneCh) },
		OnStopped: func(error) { stopped.Add(1) },
	})

	waitFor(t, doneCh, "terminal notification after transient failure")
	if got := stopped.Load(); got != 0 {
		t.Fatalf("OnStopped fired %d times for a transient failure", got)
	}
}

func TestPollerStopsOnUnauthorized(t *testing.T) {
	t.Parallel()

	ps := newPollServer(t, batchStatus("processing", 1))
	ps.failures[2] = http.StatusUnauthorized

	poller := newTestPoller(t, ps.server.URL)

	stoppedCh := make(chan error, 1)
	poller.Watch(context.Background(), "batch-1", WatchHandlers{
		OnStopped: func(err error) { stoppedCh <- err },
	})

	select {
	case err := <-stoppedCh:
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("stop error = %v, want ErrUnauthorized", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for unauthorized stop")
	}

	settled := ps.pollCount()
	time.Sleep(5 * testPollInterval)
	if got := ps.pollCount(); got != settled {
		t.Fatalf("polls continued after unauthorized: %d -> %d", settled, got)
	}
}

func TestPollerStopsOnPermanentRejection(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		code    int
		wantErr error
	}{
		{name: "forbidden batch", code: http.StatusForbidden, wantErr: ErrForbidden},
		{name: "deleted batch", code: http.StatusNotFound, wantErr: ErrNotFound},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ps := newPollServer(t, batchStatus("processing", 1))
			ps.failures[2] = tc.code

			poller := newTestPoller(t, ps.server.URL)

			stoppedCh := make(chan error, 1)
			poller.Watch(context.Background(), "batch-1", WatchHandlers{
				OnStopped: func(err error) { stoppedCh <- err },
			})

			select {
			case err := <-stoppedCh:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("stop error = %v, want %v", err, tc.wantErr)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for the watch to stop")
			}

			settled := ps.pollCount()
			time.Sleep(5 * testPollInterval)
			if got := ps.pollCount(); got != settled {
				t.Fatalf("polls continued after permanent rejection: %d -> %d", settled, got)
			}
		})
	}
}

func TestWatchReplacesPreviousLoop(t *testing.T) {
	t.Parallel()

	ps := newPollServer(t, batchStatus("processing", 1))
	poller := newTestPoller(t, ps.server.URL)

	firstStopped := make(chan struct{})
	poller.Watch(context.Background(), "batch-1", WatchHandlers{
		OnStopped: func(error) { close(firstStopped) },
	})

	// Replacing the watch must tear the first loop down before the second
	// starts; Watch returning guarantees the old loop has exited.
	poller.Watch(context.Background(), "batch-1", WatchHandlers{})

	waitFor(t, firstStopped, "first loop teardown")
	poller.Close()
}

func TestRewatchingTerminalBatchDoesNotRenotify(t *testing.T) {
	t.Parallel()

	ps := newPollServer(t, batchStatus("complete", 3))
	poller := newTestPoller(t, ps.server.URL)

	var dones atomic.Int64
	var histories atomic.Int64

	for i := 0; i < 2; i++ {
		doneCh := make(chan struct{})
		poller.Watch(context.Background(), "batch-1", WatchHandlers{
			OnDone: func(*BatchStatus) {
				dones.Add(1)
			},
			OnHistory: func(batches []Batch) {
				if len(batches) != 1 || batches[0].ID != "batch-1" {
					t.Errorf("unexpected history: %+v", batches)
				}
				histories.Add(1)
				close(doneCh)
			},
		})
		waitFor(t, doneCh, "history refresh")
	}
	poller.Close()

	if got := dones.Load(); got != 1 {
		t.Fatalf("terminal notifications = %d, want 1 across rewatches", got)
	}
	if got := histories.Load(); got != 2 {
		t.Fatalf("history refreshes = %d, want 2", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	ps := newPollServer(t, batchStatus("processing", 1))
	poller := newTestPoller(t, ps.server.URL)

	poller.Watch(context.Background(), "batch-1", WatchHandlers{})
	poller.Close()
	poller.Close()
}
