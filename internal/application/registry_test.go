package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ternmaps/tern/internal/domain"
	"github.com/ternmaps/tern/internal/ports/output"
)

func newTestRegistry(t *testing.T, dl Downloader, state *mockState, conn *mockConnectivity) *Registry {
	t.Helper()
	r := NewRegistry(dl, state, conn, &output.NoOpMetrics{}, quietLogger(), "en")
	t.Cleanup(r.Stop)
	return r
}

func waitForStatus(t *testing.T, r *Registry, id string, status domain.TaskStatus) domain.DownloadTask {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, task := range r.Tasks() {
			if task.ID == id && task.Status == status {
				return task
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s; tasks: %+v", id, status, r.Tasks())
	return domain.DownloadTask{}
}

func TestStartRunsDownloadToCompletion(t *testing.T) {
	dl := &mockDownloader{result: true, percent: []float64{25, 75}}
	r := newTestRegistry(t, dl, newMockState(), &mockConnectivity{online: true})

	if !r.Start(context.Background(), "vfr", domain.KindChart) {
		t.Fatal("Start = false, want true")
	}

	task := waitForStatus(t, r, "vfr", domain.StatusComplete)
	if task.Progress != 100 {
		t.Errorf("Progress = %.1f, want 100", task.Progress)
	}
	if task.Error != "" {
		t.Errorf("Error = %q, want empty", task.Error)
	}
	if task.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestStartOfflineFailsFast(t *testing.T) {
	dl := &mockDownloader{result: true}
	r := newTestRegistry(t, dl, newMockState(), &mockConnectivity{online: false})

	if r.Start(context.Background(), "vfr", domain.KindChart) {
		t.Fatal("Start = true while offline, want false")
	}

	tasks := r.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("len(Tasks) = %d, want 1", len(tasks))
	}
	if tasks[0].Status != domain.StatusError {
		t.Errorf("Status = %s, want error", tasks[0].Status)
	}
	if tasks[0].Error != domain.Localize("en", domain.MsgNoConnection) {
		t.Errorf("Error = %q, want localized no-connection message", tasks[0].Error)
	}
}

func TestStartActiveTaskIsNoOp(t *testing.T) {
	dl := &mockDownloader{result: true, block: make(chan struct{}), started: make(chan string, 1)}
	r := newTestRegistry(t, dl, newMockState(), &mockConnectivity{online: true})

	if !r.Start(context.Background(), "vfr", domain.KindChart) {
		t.Fatal("first Start = false")
	}
	<-dl.started

	// Second start on the running id: reported true, no second download.
	if !r.Start(context.Background(), "vfr", domain.KindChart) {
		t.Error("second Start = false, want true (no-op)")
	}
	select {
	case <-dl.started:
		t.Error("second download launched for an active id")
	case <-time.After(50 * time.Millisecond):
	}

	close(dl.block)
	waitForStatus(t, r, "vfr", domain.StatusComplete)
}

func TestFailedDownloadGetsLocalizedError(t *testing.T) {
	dl := &mockDownloader{result: false}
	r := newTestRegistry(t, dl, newMockState(), &mockConnectivity{online: true})

	r.Start(context.Background(), "vfr", domain.KindChart)

	task := waitForStatus(t, r, "vfr", domain.StatusError)
	if task.Error != domain.Localize("en", domain.MsgInterrupted) {
		t.Errorf("Error = %q, want localized interrupted message", task.Error)
	}
}

func TestSubscribeReplaysAndNotifies(t *testing.T) {
	dl := &mockDownloader{result: true, block: make(chan struct{}), started: make(chan string, 1)}
	r := newTestRegistry(t, dl, newMockState(), &mockConnectivity{online: true})

	r.Start(context.Background(), "vfr", domain.KindChart)
	<-dl.started

	snapshots := make(chan []domain.DownloadTask, 16)
	unsubscribe := r.Subscribe(func(tasks []domain.DownloadTask) {
		snapshots <- tasks
	})

	// Immediate replay of current state.
	select {
	case tasks := <-snapshots:
		if len(tasks) != 1 || tasks[0].ID != "vfr" {
			t.Fatalf("replay snapshot = %+v", tasks)
		}
	case <-time.After(time.Second):
		t.Fatal("no immediate replay on Subscribe")
	}

	close(dl.block)
	waitForStatus(t, r, "vfr", domain.StatusComplete)

	// At least one notification carried the completed task.
	sawComplete := false
	for done := false; !done; {
		select {
		case tasks := <-snapshots:
			for _, task := range tasks {
				if task.Status == domain.StatusComplete {
					sawComplete = true
				}
			}
		default:
			done = true
		}
	}
	if !sawComplete {
		t.Error("no notification with the completed task")
	}

	unsubscribe()
	before := len(snapshots)
	r.Clear("vfr")
	if len(snapshots) != before {
		t.Error("listener notified after unsubscribe")
	}
}

func TestConnectivityChangeRenotifies(t *testing.T) {
	dl := &mockDownloader{result: true}
	conn := &mockConnectivity{online: true}
	r := newTestRegistry(t, dl, newMockState(), conn)

	notifications := make(chan []domain.DownloadTask, 8)
	defer r.Subscribe(func(tasks []domain.DownloadTask) { notifications <- tasks })()
	<-notifications // replay

	conn.setOnline(false)

	select {
	case <-notifications:
	case <-time.After(time.Second):
		t.Fatal("no re-notification on connectivity change")
	}
}

func TestInterruptedTasksReclassifiedOnRestart(t *testing.T) {
	state := newMockState()

	// Simulate a previous process dying mid-download.
	persisted := []domain.DownloadTask{
		{ID: "vfr", Kind: domain.KindChart, Status: domain.StatusDownloading, Progress: 40},
	}
	raw, _ := json.Marshal(persisted)
	_ = state.Put(context.Background(), tasksKey, raw)

	r := newTestRegistry(t, &mockDownloader{result: true}, state, &mockConnectivity{online: true})

	tasks := r.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("len(Tasks) = %d, want 1", len(tasks))
	}
	if tasks[0].Status != domain.StatusError {
		t.Errorf("restored status = %s, want error", tasks[0].Status)
	}
	if tasks[0].Error != domain.Localize("en", domain.MsgInterrupted) {
		t.Errorf("restored error = %q, want localized interrupted message", tasks[0].Error)
	}

	// The interrupted task is re-startable.
	if !r.Start(context.Background(), "vfr", domain.KindChart) {
		t.Error("Start after restart = false, want true")
	}
	waitForStatus(t, r, "vfr", domain.StatusComplete)
}

func TestProgressAndIsActive(t *testing.T) {
	dl := &mockDownloader{result: true, block: make(chan struct{}), started: make(chan string, 1), percent: []float64{42}}
	r := newTestRegistry(t, dl, newMockState(), &mockConnectivity{online: true})

	if _, ok := r.Progress("vfr"); ok {
		t.Error("Progress of unknown id reported ok")
	}
	if r.IsActive("vfr") {
		t.Error("IsActive(unknown) = true")
	}

	r.Start(context.Background(), "vfr", domain.KindChart)
	<-dl.started

	if !r.IsActive("vfr") {
		t.Error("IsActive = false while downloading")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if p, ok := r.Progress("vfr"); ok && p == 42 {
			break
		}
		if time.Now().After(deadline) {
			p, ok := r.Progress("vfr")
			t.Fatalf("Progress = %.1f, %v; want 42, true", p, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(dl.block)
	waitForStatus(t, r, "vfr", domain.StatusComplete)

	if r.IsActive("vfr") {
		t.Error("IsActive = true after completion")
	}

	r.Clear("vfr")
	if _, ok := r.Progress("vfr"); ok {
		t.Error("Progress reported ok after Clear")
	}
}
