package connectivity

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOnlineWhenSourceResponds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(srv.URL, time.Minute, quietLogger())
	if !p.Online() {
		t.Error("Online = false against a live server")
	}
}

func TestOfflineWhenSourceUnreachable(t *testing.T) {
	p := New("http://127.0.0.1:1/", time.Minute, quietLogger())
	if p.Online() {
		t.Error("Online = true against an unreachable host")
	}
}

func TestProbeResultIsCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(srv.URL, time.Minute, quietLogger())
	for i := 0; i < 5; i++ {
		p.Online()
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("probe hit the server %d times within the TTL, want 1", n)
	}
}

func TestSubscriberSeesTransition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	p := New(srv.URL, 20*time.Millisecond, quietLogger())

	transitions := make(chan bool, 4)
	defer p.Subscribe(func(online bool) { transitions <- online })()

	if !p.Online() {
		t.Fatal("initial Online = false")
	}

	// Kill the server; the next stale probe must flip to offline and
	// notify.
	srv.Close()
	time.Sleep(25 * time.Millisecond)
	if p.Online() {
		t.Error("Online = true after server went away")
	}

	select {
	case online := <-transitions:
		if online {
			t.Error("transition reported online, want offline")
		}
	case <-time.After(time.Second):
		t.Fatal("no transition notification")
	}
}
