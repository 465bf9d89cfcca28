package fsmon

import "errors"

// Sentinel errors returned by Monitor methods. Backend-specific
// failures (a missing path, a permission error, an exhausted resource)
// are surfaced as *os.SyscallError (inotify and Windows backends) or as
// the *os.PathError of the failed os call (polling backend), both
// wrapping the underlying errno, so callers can still use errors.Is
// against syscall.ENOENT and friends.
var (
	// ErrClosed is returned by the Add* methods and ReadEvents when
	// called after Close.
	ErrClosed = errors.New("fsmon: monitor closed")

	// ErrNonExistentWatch is returned by RemoveWatch for a watch that
	// isn't (or is no longer) registered on this monitor.
	ErrNonExistentWatch = errors.New("fsmon: no such watch")

	// ErrUnsupported is returned for an operation a backend doesn't
	// implement, e.g. AddFileWatch on the Windows backend.
	ErrUnsupported = errors.New("fsmon: not supported by this backend")
)
