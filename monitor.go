package fsmon

import "time"

// adapter is the capability set every backend (Linux/inotify,
// Windows/IOCP, portable polling) implements identically; Monitor is a
// thin dispatch surface over whichever one was selected at
// construction time. There's no dynamic loading involved, so this
// tagged-variant-via-interface is resolved once in NewMonitor and
// never switched again.
type adapter interface {
	addDirWatch(path string, flags Op, user any) (*Watch, error)
	addFileWatch(path string, flags Op, user any) (*Watch, error)
	removeWatch(w *Watch) error
	removeAllWatches()
	readEvents(timeout time.Duration, hasTimeout bool) ([]Event, error)
	watches() []*Watch
	close() error
}

// Monitor is the unified facade over the platform-specific adapters.
// A Monitor is safe for concurrent use: one goroutine may call
// ReadEvents while others call the Add*/Remove* methods.
type Monitor struct {
	a adapter
}

// NewMonitor creates a Monitor using the OS-appropriate backend --
// inotify on Linux, an I/O completion port on Windows, and the
// polling adapter everywhere else -- unless overridden with
// WithBackend.
func NewMonitor(opts ...Option) (*Monitor, error) {
	o := newOptions(opts...)

	if o.backend == BackendPoll {
		a, err := newPollMonitor(o)
		if err != nil {
			return nil, err
		}
		return &Monitor{a: a}, nil
	}

	a, err := newPlatformMonitor(o)
	if err != nil {
		return nil, err
	}
	return &Monitor{a: a}, nil
}

// AddDirWatch registers a watch on a directory. flags is the
// subscribed event-kind bitmask; DeleteSelf is always added
// regardless of what's passed. user is an opaque annotation stored on
// the watch and passed through unchanged to every Event it produces.
func (m *Monitor) AddDirWatch(path string, flags Op, user any) (*Watch, error) {
	return m.a.addDirWatch(path, flags, user)
}

// AddFileWatch registers a watch on a single file. Not every backend
// supports this -- the Windows backend returns ErrUnsupported.
func (m *Monitor) AddFileWatch(path string, flags Op, user any) (*Watch, error) {
	return m.a.addFileWatch(path, flags, user)
}

// recursiveAdder is implemented only by the Windows adapter, the one
// backend whose native API exposes a recursion switch (see spec's
// Non-goals: Linux and polling never recurse).
type recursiveAdder interface {
	addDirWatchRecursive(path string, flags Op, user any, recursive bool) (*Watch, error)
}

// AddDirWatchRecursive is like AddDirWatch, but also asks the backend
// to watch subdirectories when recursive is true. Only the Windows
// backend supports this; elsewhere recursive=true fails with
// ErrUnsupported and recursive=false behaves like AddDirWatch.
func (m *Monitor) AddDirWatchRecursive(path string, flags Op, user any, recursive bool) (*Watch, error) {
	if ra, ok := m.a.(recursiveAdder); ok {
		return ra.addDirWatchRecursive(path, flags, user, recursive)
	}
	if recursive {
		return nil, ErrUnsupported
	}
	return m.a.addDirWatch(path, flags, user)
}

// RemoveWatch deregisters w. After this returns (successfully or not
// due to ErrNonExistentWatch), no further events for w are delivered
// by any later ReadEvents call.
func (m *Monitor) RemoveWatch(w *Watch) error {
	return m.a.removeWatch(w)
}

// RemoveAllWatches deregisters every watch currently held by this
// monitor.
func (m *Monitor) RemoveAllWatches() {
	m.a.removeAllWatches()
}

// EnableWatch toggles event delivery for w. Events from a disabled
// watch are dropped before delivery; the backend still tracks the
// watch and, on the polling adapter, still updates its scan timestamp.
func (m *Monitor) EnableWatch(w *Watch, enable bool) {
	w.setEnabled(enable)
}

// DisableWatch is shorthand for EnableWatch(w, false).
func (m *Monitor) DisableWatch(w *Watch) {
	w.setEnabled(false)
}

// ReadEvents waits for the backend's next underlying read (up to the
// optional timeout, indefinitely with no timeout argument) or for the
// monitor to be closed, then returns the batch produced by that one
// operation. The batch may be empty: on a timeout, when every record
// read was filtered out, and on the polling backend, which returns
// after one pass over its watches whether or not anything changed. Events within one returned batch preserve the
// backend's native order; there's no ordering promise across calls or
// across watches.
func (m *Monitor) ReadEvents(timeout ...time.Duration) ([]Event, error) {
	if len(timeout) == 0 {
		return m.a.readEvents(0, false)
	}
	return m.a.readEvents(timeout[0], true)
}

// Watches returns a snapshot of the watches currently active on this
// monitor.
func (m *Monitor) Watches() []*Watch {
	return m.a.watches()
}

// Close releases all remaining watches and the underlying backend
// resource. It's safe to call more than once.
func (m *Monitor) Close() error {
	return m.a.close()
}
