//go:build windows

package fsmon

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/fsmon/fsmon/internal"
	"golang.org/x/sys/windows"
)

// windowsWatch is the backend-private state a completion-port-backed
// Watch carries in its Watch.backend field: the directory handle, its
// OVERLAPPED control block, its change buffer, the completion-port key
// it's registered under, and whether it has already been torn down.
type windowsWatch struct {
	handle    windows.Handle
	ov        windows.Overlapped
	buf       []byte
	key       uint32
	recursive bool
	filter    uint32

	mu      sync.Mutex
	removed bool
}

// windowsMonitor owns one I/O completion port. Every directory watch
// associates its own handle with the port under a freshly assigned
// key; read_events multiplexes all of them through one blocking wait.
type windowsMonitor struct {
	port    windows.Handle
	bufSize int

	mu      sync.RWMutex
	byKey   map[uint32]*Watch
	nextKey uint32
	closed  bool
}

func newPlatformMonitor(o options) (adapter, error) {
	return newWindowsMonitor(o)
}

func newWindowsMonitor(o options) (*windowsMonitor, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, os.NewSyscallError("CreateIoCompletionPort", err)
	}
	return &windowsMonitor{
		port:    port,
		bufSize: o.bufferSize,
		byKey:   make(map[uint32]*Watch),
	}, nil
}

// toWindowsFilter unions the FILE_NOTIFY_CHANGE_* bits that correspond
// to the unified subscription, plus the always-on handling needed for
// DeleteSelf (the same FILE_NAME/DIR_NAME bits that report Create and
// Delete also surface the directory's own removal).
func toWindowsFilter(flags Op) uint32 {
	var m uint32
	if flags.Has(Access) {
		m |= windows.FILE_NOTIFY_CHANGE_LAST_ACCESS
	}
	if flags.Has(Modify) {
		m |= windows.FILE_NOTIFY_CHANGE_LAST_WRITE | windows.FILE_NOTIFY_CHANGE_SIZE
	}
	if flags.Has(Attrib) {
		m |= windows.FILE_NOTIFY_CHANGE_ATTRIBUTES
	}
	if flags.Has(Create) || flags.Has(Delete) || flags.Has(DeleteSelf) ||
		flags.Has(MoveFrom) || flags.Has(MoveTo) {
		m |= windows.FILE_NOTIFY_CHANGE_FILE_NAME | windows.FILE_NOTIFY_CHANGE_DIR_NAME
	}
	return m
}

func windowsActionToOp(action uint32) (Op, bool) {
	switch action {
	case windows.FILE_ACTION_ADDED:
		return Create, true
	case windows.FILE_ACTION_REMOVED:
		return Delete, true
	case windows.FILE_ACTION_MODIFIED:
		return Modify, true
	case windows.FILE_ACTION_RENAMED_OLD_NAME:
		return MoveFrom, true
	case windows.FILE_ACTION_RENAMED_NEW_NAME:
		return MoveTo, true
	}
	return 0, false
}

func (m *windowsMonitor) addDirWatch(path string, flags Op, user any) (*Watch, error) {
	return m.addDirWatchRecursive(path, flags, user, false)
}

func (m *windowsMonitor) addDirWatchRecursive(path string, flags Op, user any, recursive bool) (*Watch, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	handle, err := windows.CreateFile(pathPtr,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED, 0)
	if err != nil {
		return nil, os.NewSyscallError("CreateFile", err)
	}

	key := atomic.AddUint32(&m.nextKey, 1)
	if _, err := windows.CreateIoCompletionPort(handle, m.port, uintptr(key), 0); err != nil {
		windows.CloseHandle(handle)
		return nil, os.NewSyscallError("CreateIoCompletionPort", err)
	}

	w := newWatch(path, dirWatch, flags, user)
	ww := &windowsWatch{
		handle:    handle,
		buf:       make([]byte, m.bufSize),
		key:       key,
		recursive: recursive,
		filter:    toWindowsFilter(w.flags),
	}
	w.backend = ww

	if err := m.startRead(ww); err != nil {
		windows.CloseHandle(handle)
		return nil, err
	}

	m.mu.Lock()
	m.byKey[key] = w
	m.mu.Unlock()
	return w, nil
}

// AddFileWatch is not supported by this backend; every revision of the
// native API this adapter drives operates on directory handles only.
func (m *windowsMonitor) addFileWatch(path string, flags Op, user any) (*Watch, error) {
	return nil, ErrUnsupported
}

func (m *windowsMonitor) startRead(ww *windowsWatch) error {
	err := windows.ReadDirectoryChanges(ww.handle, &ww.buf[0], uint32(len(ww.buf)),
		ww.recursive, ww.filter, nil, &ww.ov, 0)
	if err != nil {
		return os.NewSyscallError("ReadDirectoryChangesW", err)
	}
	return nil
}

func (m *windowsMonitor) removeWatch(w *Watch) error {
	ww, ok := w.backend.(*windowsWatch)
	if !ok {
		return ErrNonExistentWatch
	}

	ww.mu.Lock()
	if ww.removed {
		ww.mu.Unlock()
		return ErrNonExistentWatch
	}
	ww.removed = true
	ww.mu.Unlock()

	windows.CancelIo(ww.handle)
	windows.CloseHandle(ww.handle)
	// Wake any blocked GetQueuedCompletionStatus so it observes the
	// removal instead of hanging on a handle that no longer exists.
	windows.PostQueuedCompletionStatus(m.port, 0, uintptr(ww.key), nil)
	return nil
}

func (m *windowsMonitor) removeAllWatches() {
	m.mu.RLock()
	ws := make([]*Watch, 0, len(m.byKey))
	for _, w := range m.byKey {
		ws = append(ws, w)
	}
	m.mu.RUnlock()

	for _, w := range ws {
		m.removeWatch(w)
	}
}

func (m *windowsMonitor) watches() []*Watch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Watch, 0, len(m.byKey))
	for _, w := range m.byKey {
		out = append(out, w)
	}
	return out
}

func (m *windowsMonitor) close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.removeAllWatches()
	return windows.CloseHandle(m.port)
}

func (m *windowsMonitor) readEvents(timeout time.Duration, hasTimeout bool) ([]Event, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	waitMs := uint32(windows.INFINITE)
	if hasTimeout {
		ms := timeout / time.Millisecond
		if ms < 0 {
			ms = 0
		}
		waitMs = uint32(ms)
	}

	var (
		n   uint32
		key uintptr
		ov  *windows.Overlapped
	)
	err := windows.GetQueuedCompletionStatus(m.port, &n, &key, &ov, waitMs)

	if err != nil {
		if errors.Is(err, windows.WAIT_TIMEOUT) {
			return nil, nil
		}
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return m.handleVanished(uint32(key)), nil
		}
		return nil, os.NewSyscallError("GetQueuedCompletionStatus", err)
	}

	m.mu.RLock()
	w, ok := m.byKey[uint32(key)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	ww := w.backend.(*windowsWatch)

	ww.mu.Lock()
	removed := ww.removed
	ww.mu.Unlock()
	if removed {
		m.mu.Lock()
		delete(m.byKey, ww.key)
		m.mu.Unlock()
		return nil, nil
	}

	var events []Event
	if w.Enabled() {
		events = parseNotifications(w, ww.buf[:n])
	}

	if err := m.startRead(ww); err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return append(events, m.handleVanished(uint32(key))...), nil
		}
		return events, err
	}
	return events, nil
}

// handleVanished evicts the watch at key and synthesizes the single
// DeleteSelf event callers are guaranteed regardless of subscribed
// flags, per the watched directory having been removed or become
// inaccessible.
func (m *windowsMonitor) handleVanished(key uint32) []Event {
	m.mu.Lock()
	w, ok := m.byKey[key]
	if ok {
		delete(m.byKey, key)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return []Event{{Watch: w, Op: DeleteSelf}}
}

// parseNotifications walks the FILE_NOTIFY_INFORMATION chain a
// completed ReadDirectoryChangesW filled in, translating each record
// into zero or one unified Event.
func parseNotifications(w *Watch, buf []byte) []Event {
	var events []Event
	flags := w.Flags()
	offset := uint32(0)
	for {
		if int(offset)+int(unsafe.Sizeof(windows.FileNotifyInformation{})) > len(buf) {
			break
		}
		raw := (*windows.FileNotifyInformation)(unsafe.Pointer(&buf[offset]))

		size := int(raw.FileNameLength / 2)
		namePtr := (*uint16)(unsafe.Pointer(&raw.FileName[0]))
		nameSlice := unsafe.Slice(namePtr, size)
		name := windows.UTF16ToString(nameSlice)

		if debug {
			internal.Debug(name, raw.Action)
		}

		if op, ok := windowsActionToOp(raw.Action); ok && flags&op != 0 {
			events = append(events, Event{Watch: w, Name: name, Op: op})
		}

		if raw.NextEntryOffset == 0 {
			break
		}
		offset += raw.NextEntryOffset
		if offset >= uint32(len(buf)) {
			break
		}
	}
	return events
}
