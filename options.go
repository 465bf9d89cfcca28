package fsmon

import "time"

// Backend selects which adapter a Monitor uses.
type Backend int

const (
	// BackendAuto picks inotify on Linux, the I/O completion port
	// adapter on Windows, and polling everywhere else. This is the
	// default.
	BackendAuto Backend = iota

	// BackendPoll forces the portable polling adapter regardless of
	// GOOS. Useful for running the same test suite against a backend
	// that doesn't depend on a native kernel facility.
	BackendPoll
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBufferSize   = 65536 // matches ReadDirectoryChangesW's SMB-safe default
	minBufferSize       = 1024
)

type options struct {
	backend      Backend
	pollInterval time.Duration
	bufferSize   int
}

// Option configures a Monitor at construction time. See WithBackend,
// WithPollInterval, and WithBufferSize.
type Option func(*options)

// WithBackend forces the given backend instead of the OS default.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithPollInterval sets the polling backend's scan cadence (spec's
// "polling cadence knob"). It's a no-op on the inotify and Windows
// backends. d <= 0 is ignored.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithBufferSize sets the Windows backend's per-watch change buffer,
// in bytes. It's a no-op on the inotify and polling backends. Values
// from 1 to 1023 are rounded up to 1024; n <= 0 is ignored.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

func newOptions(opts ...Option) options {
	o := options{
		backend:      BackendAuto,
		pollInterval: defaultPollInterval,
		bufferSize:   defaultBufferSize,
	}
	for _, f := range opts {
		f(&o)
	}
	if o.bufferSize < minBufferSize {
		o.bufferSize = minBufferSize
	}
	return o
}
