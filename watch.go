package fsmon

import "sync"

// watchKind distinguishes a directory watch from a file watch. Only
// the polling backend (and the Linux backend, trivially) treats them
// differently; Windows rejects file watches outright.
type watchKind uint8

const (
	dirWatch watchKind = iota
	fileWatch
)

// Watch is an opaque handle returned by Monitor.AddDirWatch and
// Monitor.AddFileWatch. It is owned by exactly one Monitor for its
// lifetime; removing it releases the backend resources it holds
// exactly once.
//
// The zero Watch is not usable; Watches are only ever constructed by a
// Monitor.
type Watch struct {
	path string
	kind watchKind
	user any

	mu      sync.Mutex
	flags   Op
	enabled bool

	// backend holds adapter-private state: *linuxWatch, *windowsWatch,
	// or *pollWatch depending on which Monitor created this Watch. It's
	// an any (rather than one field per platform) so this type compiles
	// identically regardless of GOOS; only the adapter that owns a
	// given Watch ever type-asserts it.
	backend any
}

// Path returns the path this watch was registered with.
func (w *Watch) Path() string { return w.path }

// User returns the caller-supplied annotation passed to AddDirWatch or
// AddFileWatch, unchanged.
func (w *Watch) User() any { return w.user }

// Flags returns the currently subscribed event-kind bitmask. This
// always includes DeleteSelf, regardless of what the caller requested.
func (w *Watch) Flags() Op {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flags
}

// Enabled reports whether events from this watch are currently
// delivered. Disabled watches are dropped before delivery, not before
// the backend produces them.
func (w *Watch) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

func (w *Watch) setEnabled(v bool) {
	w.mu.Lock()
	w.enabled = v
	w.mu.Unlock()
}

func newWatch(path string, kind watchKind, flags Op, user any) *Watch {
	return &Watch{
		path:    path,
		kind:    kind,
		user:    user,
		flags:   flags | DeleteSelf,
		enabled: true,
	}
}
