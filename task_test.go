package fsmon

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTaskDeliversEventsToCallback(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMonitor(WithBackend(BackendPoll), WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	var (
		mu   sync.Mutex
		got  []Event
		seen = make(chan struct{})
	)
	task := NewTask(m, func(events []Event) {
		mu.Lock()
		got = append(got, events...)
		mu.Unlock()
		select {
		case seen <- struct{}{}:
		default:
		}
	})
	defer task.Stop()

	if _, err := task.AddDirWatch(dir, All, nil); err != nil {
		t.Fatalf("AddDirWatch: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, e := range got {
		if e.Op == Create && e.Name == "a.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("callback events %+v missing Create a.txt", got)
	}
}

func TestTaskStopIsIdempotent(t *testing.T) {
	m, err := NewMonitor(WithBackend(BackendPoll))
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	task := NewTask(m, func([]Event) {})
	if err := task.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := task.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
