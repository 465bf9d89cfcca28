//go:build windows

package fsmon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newWindowsTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := NewMonitor()
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func readOneWin(t *testing.T, m *Monitor) Event {
	t.Helper()
	events, err := m.ReadEvents(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("ReadEvents returned no events before the deadline")
	}
	return events[0]
}

func TestWindowsCreateAndDelete(t *testing.T) {
	dir := t.TempDir()
	m := newWindowsTestMonitor(t)
	if _, err := m.AddDirWatch(dir, All, nil); err != nil {
		t.Fatalf("AddDirWatch: %v", err)
	}

	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if e := readOneWin(t, m); e.Op != Create || e.Name != "a.txt" {
		t.Fatalf("got %+v, want Create a.txt", e)
	}

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	if e := readOneWin(t, m); e.Op != Delete || e.Name != "a.txt" {
		t.Fatalf("got %+v, want Delete a.txt", e)
	}
}

func TestWindowsAddFileWatchUnsupported(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newWindowsTestMonitor(t)
	if _, err := m.AddFileWatch(file, All, nil); err != ErrUnsupported {
		t.Fatalf("AddFileWatch: err = %v, want ErrUnsupported", err)
	}
}

func TestWindowsRecursiveWatch(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	m := newWindowsTestMonitor(t)
	if _, err := m.AddDirWatchRecursive(dir, All, nil, true); err != nil {
		t.Fatalf("AddDirWatchRecursive: %v", err)
	}

	if err := os.WriteFile(filepath.Join(sub, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if e := readOneWin(t, m); e.Op != Create {
		t.Fatalf("got %+v, want Create", e)
	}
}

func TestWindowsRemoveWatchStopsDelivery(t *testing.T) {
	dir := t.TempDir()
	m := newWindowsTestMonitor(t)

	w, err := m.AddDirWatch(dir, All, nil)
	if err != nil {
		t.Fatalf("AddDirWatch: %v", err)
	}
	if err := m.RemoveWatch(w); err != nil {
		t.Fatalf("RemoveWatch: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	events, _ := m.ReadEvents(200 * time.Millisecond)
	if len(events) != 0 {
		t.Errorf("got %d events after RemoveWatch, want 0: %v", len(events), events)
	}
}
