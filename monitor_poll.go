package fsmon

import (
	"errors"
	"os"
	"sort"
	"sync"
	"time"
)

// pollWatch is the snapshot-and-timestamp state a polling-backed Watch
// carries in its Watch.backend field. Exactly one of dir/file is
// meaningful, chosen by the owning Watch's kind.
type pollWatch struct {
	lastScan time.Time
	deleted  bool
	dir      []dirEntry // direct children, for a directory watch
	file     dirEntry   // the watched file's own times, for a file watch
}

type dirEntry struct {
	name  string
	atime time.Time
	mtime time.Time
}

// pollMonitor is the portable fallback adapter: it owns no kernel
// resource at all, just the set of watches it periodically rescans and
// diffs against their last snapshot.
type pollMonitor struct {
	mu       sync.Mutex
	set      map[*Watch]struct{}
	interval time.Duration
	closed   bool
}

func newPollMonitor(o options) (*pollMonitor, error) {
	return &pollMonitor{
		set:      make(map[*Watch]struct{}),
		interval: o.pollInterval,
	}, nil
}

func (m *pollMonitor) addDirWatch(path string, flags Op, user any) (*Watch, error) {
	return m.add(path, dirWatch, flags, user)
}

func (m *pollMonitor) addFileWatch(path string, flags Op, user any) (*Watch, error) {
	return m.add(path, fileWatch, flags, user)
}

func (m *pollMonitor) add(path string, kind watchKind, flags Op, user any) (*Watch, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.mu.Unlock()

	w := newWatch(path, kind, flags, user)
	pw := &pollWatch{lastScan: time.Now()}
	w.backend = pw

	switch kind {
	case dirWatch:
		entries, err := scanDir(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			pw.deleted = true
		} else {
			pw.dir = entries
		}
	case fileWatch:
		fi, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			pw.deleted = true
		} else {
			at, mt := fileTimes(fi)
			pw.file = dirEntry{atime: at, mtime: mt}
		}
	}

	m.mu.Lock()
	m.set[w] = struct{}{}
	m.mu.Unlock()
	return w, nil
}

func (m *pollMonitor) removeWatch(w *Watch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.set[w]; !ok {
		return ErrNonExistentWatch
	}
	delete(m.set, w)
	return nil
}

func (m *pollMonitor) removeAllWatches() {
	m.mu.Lock()
	m.set = make(map[*Watch]struct{})
	m.mu.Unlock()
}

func (m *pollMonitor) watches() []*Watch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Watch, 0, len(m.set))
	for w := range m.set {
		out = append(out, w)
	}
	return out
}

func (m *pollMonitor) close() error {
	m.mu.Lock()
	m.closed = true
	m.set = make(map[*Watch]struct{})
	m.mu.Unlock()
	return nil
}

// readEvents walks the watch set oldest-scanned-first, pacing each
// watch to at least m.interval since its last scan. This amortizes the
// scan cost fairly across watches without a dedicated timer thread --
// the same scheme the polling backend it's grounded on uses. An
// explicit timeout caps the total time spent pacing; with none, it
// scans the whole set once, sleeping as needed between watches.
func (m *pollMonitor) readEvents(timeout time.Duration, hasTimeout bool) ([]Event, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	ws := make([]*Watch, 0, len(m.set))
	for w := range m.set {
		ws = append(ws, w)
	}
	interval := m.interval
	m.mu.Unlock()

	sort.Slice(ws, func(i, j int) bool {
		return ws[i].backend.(*pollWatch).lastScan.Before(ws[j].backend.(*pollWatch).lastScan)
	})

	var deadline time.Time
	if hasTimeout {
		deadline = time.Now().Add(timeout)
	}

	var events []Event
	for _, w := range ws {
		pw := w.backend.(*pollWatch)

		now := time.Now()
		if elapsed := now.Sub(pw.lastScan); elapsed < interval {
			sleep := interval - elapsed
			if hasTimeout {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					break
				}
				if sleep > remaining {
					sleep = remaining
				}
			}
			time.Sleep(sleep)
		}
		pw.lastScan = time.Now()

		if !w.Enabled() {
			continue
		}

		events = append(events, m.scanOne(w, pw)...)

		if hasTimeout && !time.Now().Before(deadline) {
			break
		}
	}
	return events, nil
}

func (m *pollMonitor) scanOne(w *Watch, pw *pollWatch) []Event {
	before := roundFSResolution(time.Now())

	switch w.kind {
	case dirWatch:
		entries, err := scanDir(w.Path())
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if !pw.deleted {
					pw.deleted = true
					pw.dir = nil
					return []Event{{Watch: w, Op: DeleteSelf}}
				}
			}
			return nil
		}
		pw.deleted = false
		events := diffDir(w, pw.dir, entries, before)
		pw.dir = entries
		return events

	default: // fileWatch
		fi, err := os.Stat(w.Path())
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if !pw.deleted {
					pw.deleted = true
					return []Event{{Watch: w, Op: DeleteSelf}}
				}
			}
			return nil
		}
		pw.deleted = false
		at, mt := fileTimes(fi)
		old := pw.file
		pw.file = dirEntry{atime: at, mtime: mt}
		return diffStat(w, old, pw.file, before, "")
	}
}

func scanDir(path string) ([]dirEntry, error) {
	des, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]dirEntry, 0, len(des))
	for _, de := range des {
		fi, err := de.Info()
		if err != nil {
			// Entry vanished between ReadDir and stat-ing it; treat it
			// as already gone rather than failing the whole scan.
			continue
		}
		at, mt := fileTimes(fi)
		out = append(out, dirEntry{name: de.Name(), atime: at, mtime: mt})
	}
	return out, nil
}

// diffDir implements the directory diff algorithm: deletions,
// creations, and per-survivor access/modify comparisons.
func diffDir(w *Watch, old, new []dirEntry, before time.Time) []Event {
	oldByName := make(map[string]dirEntry, len(old))
	for _, e := range old {
		oldByName[e.name] = e
	}

	var events []Event
	for _, oe := range old {
		ne, ok := oldOrNew(new, oe.name)
		if !ok {
			if w.Flags()&Delete != 0 {
				events = append(events, Event{Watch: w, Name: oe.name, Op: Delete})
			}
			continue
		}
		events = append(events, diffStat(w, oe, ne, before, oe.name)...)
	}
	for _, ne := range new {
		if _, ok := oldByName[ne.name]; !ok {
			if w.Flags()&Create != 0 {
				events = append(events, Event{Watch: w, Name: ne.name, Op: Create})
			}
		}
	}
	return events
}

func oldOrNew(entries []dirEntry, name string) (dirEntry, bool) {
	for _, e := range entries {
		if e.name == name {
			return e, true
		}
	}
	return dirEntry{}, false
}

// diffStat compares one old/new (atime, mtime) pair. The access-time
// comparison is additionally guarded by before -- a timestamp taken
// just ahead of the scan, rounded to the filesystem's timestamp
// resolution -- so that the read performed by the scan itself can
// never be mistaken for an Access the caller should hear about.
func diffStat(w *Watch, old, new dirEntry, before time.Time, name string) []Event {
	var events []Event
	flags := w.Flags()
	if !new.atime.Equal(old.atime) && new.atime.Before(before) && flags&Access != 0 {
		events = append(events, Event{Watch: w, Name: name, Op: Access})
	}
	if !new.mtime.Equal(old.mtime) && flags&Modify != 0 {
		events = append(events, Event{Watch: w, Name: name, Op: Modify})
	}
	return events
}
