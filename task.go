package fsmon

import (
	"errors"
	"sync"
	"time"
)

// Callback receives one batch of events as they're read off a Task's
// Monitor. It runs on the Task's own goroutine, never concurrently
// with itself.
type Callback func([]Event)

// Task runs a Monitor's ReadEvents loop on a background goroutine,
// handing each batch to a Callback as it arrives. It's the async
// counterpart to driving ReadEvents by hand, grounded on the same
// daemon-thread-plus-callback shape as the package's own blocking
// read_events loop, just moved off the caller's goroutine.
//
// A Task owns the Monitor it was given: Stop closes it.
type Task struct {
	m  *Monitor
	cb Callback

	pollTimeout time.Duration

	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	stopped bool
}

// NewTask starts a Task that reads m's events in a loop and invokes cb
// with each non-empty batch. The loop polls ReadEvents with a short
// timeout so Stop can interrupt it promptly instead of blocking
// indefinitely inside a backend read.
func NewTask(m *Monitor, cb Callback) *Task {
	t := &Task{
		m:           m,
		cb:          cb,
		pollTimeout: 200 * time.Millisecond,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Task) run() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		events, err := t.m.ReadEvents(t.pollTimeout)
		if err != nil {
			// ErrClosed means Stop already tore down the Monitor; any
			// other error is a single bad read and shouldn't kill the
			// worker, so it's discarded and the loop tries again.
			if errors.Is(err, ErrClosed) {
				return
			}
			continue
		}
		if len(events) > 0 {
			t.cb(events)
		}
	}
}

// AddDirWatch is a passthrough to the underlying Monitor's
// AddDirWatch, provided so callers driving a Task never need to reach
// back into its Monitor directly.
func (t *Task) AddDirWatch(path string, flags Op, user any) (*Watch, error) {
	return t.m.AddDirWatch(path, flags, user)
}

// AddFileWatch is a passthrough to the underlying Monitor's
// AddFileWatch.
func (t *Task) AddFileWatch(path string, flags Op, user any) (*Watch, error) {
	return t.m.AddFileWatch(path, flags, user)
}

// RemoveWatch is a passthrough to the underlying Monitor's RemoveWatch.
func (t *Task) RemoveWatch(w *Watch) error {
	return t.m.RemoveWatch(w)
}

// Watches is a passthrough to the underlying Monitor's Watches.
func (t *Task) Watches() []*Watch {
	return t.m.Watches()
}

// Stop signals the background goroutine to exit, closes the
// underlying Monitor, and waits for the goroutine to finish. It's safe
// to call more than once.
func (t *Task) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()

	close(t.stop)
	err := t.m.Close()
	<-t.done
	return err
}
