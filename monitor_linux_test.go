//go:build linux

package fsmon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/syndtr/gocapability/capability"
)

func newLinuxTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := NewMonitor()
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func readOne(t *testing.T, m *Monitor) Event {
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

func TestLinuxCreateAndDelete(t *testing.T) {
	dir := t.TempDir()
	m := newLinuxTestMonitor(t)
	if _, err := m.AddDirWatch(dir, All, nil); err != nil {
		t.Fatalf("AddDirWatch: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if e := readOne(t, m); e.Op != Create || e.Name != "a.txt" {
		t.Fatalf("got %+v, want Create a.txt", e)
	}

	if err := os.Remove(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatal(err)
	}
	if e := readOne(t, m); e.Op != Delete || e.Name != "a.txt" {
		t.Fatalf("got %+v, want Delete a.txt", e)
	}
}

func TestLinuxDeleteSelfAlwaysDelivered(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	m := newLinuxTestMonitor(t)
	// Subscribe to Create only -- DeleteSelf must still arrive.
	if _, err := m.AddDirWatch(sub, Create, nil); err != nil {
		t.Fatalf("AddDirWatch: %v", err)
	}

	if err := os.Remove(sub); err != nil {
		t.Fatal(err)
	}
	if e := readOne(t, m); e.Op != DeleteSelf {
		t.Fatalf("got %+v, want DeleteSelf", e)
	}
}

func TestLinuxRemoveWatchStopsDelivery(t *testing.T) {
	dir := t.TempDir()
	m := newLinuxTestMonitor(t)

	w, err := m.AddDirWatch(dir, All, nil)
	if err != nil {
		t.Fatalf("AddDirWatch: %v", err)
	}
	if err := m.RemoveWatch(w); err != nil {
		t.Fatalf("RemoveWatch: %v", err)
	}

	// The kernel still emits a terminal IN_IGNORED for the removal
	// itself; readEvents consumes it internally without surfacing an
	// Event, so there should be nothing further to read.
	events, _ := m.ReadEvents(200 * time.Millisecond)
	for _, e := range events {
		if e.Op != 0 {
			t.Errorf("unexpected event after RemoveWatch: %+v", e)
		}
	}
}

func TestLinuxAddDirWatchNonExistent(t *testing.T) {
	m := newLinuxTestMonitor(t)
	_, err := m.AddDirWatch(filepath.Join(t.TempDir(), "missing"), All, nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("AddDirWatch on missing path: err = %v, want ENOENT", err)
	}
}

func TestLinuxAddDirWatchPermissionDenied(t *testing.T) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		t.Skipf("cannot probe capabilities: %v", err)
	}
	if err := caps.Load(); err != nil {
		t.Skipf("cannot load capabilities: %v", err)
	}
	if caps.Get(capability.EFFECTIVE, capability.CAP_DAC_OVERRIDE) {
		t.Skip("running with CAP_DAC_OVERRIDE, permission checks don't apply")
	}
	if os.Geteuid() == 0 {
		t.Skip("running as root, permission checks don't apply")
	}

	dir := t.TempDir()
	sub := filepath.Join(dir, "noaccess")
	if err := os.Mkdir(sub, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(sub, 0o755) })

	m := newLinuxTestMonitor(t)
	_, err = m.AddDirWatch(sub, All, nil)
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("AddDirWatch on unreadable dir: err = %v, want EACCES", err)
	}
}

func TestLinuxFlagFiltering(t *testing.T) {
	dir := t.TempDir()
	m := newLinuxTestMonitor(t)
	if _, err := m.AddDirWatch(dir, Delete, nil); err != nil {
		t.Fatalf("AddDirWatch: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	events, err := m.ReadEvents(200 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	for _, e := range events {
		if e.Op == Create {
			t.Fatalf("got unsubscribed Create event: %+v", e)
		}
	}
}
