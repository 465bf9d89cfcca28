//go:build linux

package fsmon

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/fsmon/fsmon/internal"
	"golang.org/x/sys/unix"
)

// linuxWatch is the backend-private state an inotify-backed Watch
// carries in its Watch.backend field.
type linuxWatch struct {
	wd uint32
}

// linuxMonitor owns one inotify instance. It translates the unified Op
// bitmask to and from inotify's native mask, and parses the kernel's
// packed event stream into batches of Event.
type linuxMonitor struct {
	fd   int
	file *os.File // wraps fd so Close() unblocks a pending Read

	mu     sync.RWMutex
	byWd   map[uint32]*Watch
	closed bool
}

func newPlatformMonitor(o options) (adapter, error) {
	return newInotifyMonitor()
}

func newInotifyMonitor() (*linuxMonitor, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, os.NewSyscallError("inotify_init1", err)
	}
	return &linuxMonitor{
		fd:   fd,
		file: os.NewFile(uintptr(fd), "inotify"),
		byWd: make(map[uint32]*Watch),
	}, nil
}

// nativeToOp maps a single inotify bit to the unified Op it represents.
// Bits with no unified meaning (IN_OPEN, IN_CLOSE_*, IN_UNMOUNT,
// IN_Q_OVERFLOW, IN_IGNORED, IN_ISDIR, ...) are simply absent and
// therefore ignored by the bit-walk in newLinuxEvent.
var nativeToOp = map[uint32]Op{
	unix.IN_ACCESS:      Access,
	unix.IN_MODIFY:      Modify,
	unix.IN_ATTRIB:      Attrib,
	unix.IN_CREATE:      Create,
	unix.IN_DELETE:      Delete,
	unix.IN_DELETE_SELF: DeleteSelf,
	unix.IN_MOVED_FROM:  MoveFrom,
	unix.IN_MOVED_TO:    MoveTo,
}

var opToNative = map[Op]uint32{
	Access:     unix.IN_ACCESS,
	Modify:     unix.IN_MODIFY,
	Attrib:     unix.IN_ATTRIB,
	Create:     unix.IN_CREATE,
	Delete:     unix.IN_DELETE,
	DeleteSelf: unix.IN_DELETE_SELF,
	MoveFrom:   unix.IN_MOVED_FROM,
	MoveTo:     unix.IN_MOVED_TO,
}

// convertFlags unions the native inotify bits for every unified kind
// set in flags. It walks bit positions 0x01 through 0x80 only --
// exactly the range the unified Op occupies -- so it never looks past
// MoveTo into inotify's own higher bits like IN_ISDIR.
func convertFlags(flags Op) uint32 {
	var native uint32
	for bit := Op(1); bit <= MoveTo; bit <<= 1 {
		if flags&bit != 0 {
			native |= opToNative[bit]
		}
	}
	return native
}

func (m *linuxMonitor) addDirWatch(path string, flags Op, user any) (*Watch, error) {
	return m.add(path, dirWatch, flags, user, unix.IN_ONLYDIR)
}

func (m *linuxMonitor) addFileWatch(path string, flags Op, user any) (*Watch, error) {
	return m.add(path, fileWatch, flags, user, 0)
}

func (m *linuxMonitor) add(path string, kind watchKind, flags Op, user any, extra uint32) (*Watch, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	w := newWatch(path, kind, flags, user)
	mask := convertFlags(w.flags) | extra | unix.IN_DELETE_SELF

	wd, err := unix.InotifyAddWatch(m.fd, path, mask)
	if err != nil {
		return nil, os.NewSyscallError("inotify_add_watch", err)
	}
	w.backend = &linuxWatch{wd: uint32(wd)}

	m.mu.Lock()
	m.byWd[uint32(wd)] = w
	m.mu.Unlock()
	return w, nil
}

func (m *linuxMonitor) removeWatch(w *Watch) error {
	lw, ok := w.backend.(*linuxWatch)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNonExistentWatch, w.Path())
	}

	m.mu.RLock()
	_, present := m.byWd[lw.wd]
	m.mu.RUnlock()
	if !present {
		return fmt.Errorf("%w: %s", ErrNonExistentWatch, w.Path())
	}

	_, err := unix.InotifyRmWatch(m.fd, lw.wd)
	if err != nil {
		return os.NewSyscallError("inotify_rm_watch", err)
	}
	m.mu.Lock()
	delete(m.byWd, lw.wd)
	m.mu.Unlock()
	return nil
}

func (m *linuxMonitor) removeAllWatches() {
	m.mu.RLock()
	wds := make([]uint32, 0, len(m.byWd))
	for wd := range m.byWd {
		wds = append(wds, wd)
	}
	m.mu.RUnlock()

	for _, wd := range wds {
		unix.InotifyRmWatch(m.fd, wd)
	}
}

func (m *linuxMonitor) watches() []*Watch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Watch, 0, len(m.byWd))
	for _, w := range m.byWd {
		out = append(out, w)
	}
	return out
}

func (m *linuxMonitor) close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.byWd = make(map[uint32]*Watch)
	m.mu.Unlock()
	return m.file.Close()
}

// readyRead waits up to timeout for the inotify fd to become readable.
// It reports false (no error) on a plain timeout.
func (m *linuxMonitor) readyRead(timeout time.Duration) (bool, error) {
	pfd := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}
	ms := int(timeout / time.Millisecond)
	for {
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, os.NewSyscallError("poll", err)
		}
		return n > 0, nil
	}
}

func (m *linuxMonitor) readEvents(timeout time.Duration, hasTimeout bool) ([]Event, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	if hasTimeout {
		ready, err := m.readyRead(timeout)
		if err != nil {
			return nil, err
		}
		if !ready {
			return nil, nil
		}
	}

	var buf [unix.SizeofInotifyEvent * 4096]byte
	n, err := internal.IgnoringEINTR(func() (int, error) { return m.file.Read(buf[:]) })
	if err != nil {
		if m.isClosed() {
			return nil, ErrClosed
		}
		return nil, os.NewSyscallError("read", err)
	}
	if n < unix.SizeofInotifyEvent {
		return nil, nil
	}

	var events []Event
	var offset uint32
	for offset <= uint32(n)-unix.SizeofInotifyEvent {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		mask := uint32(raw.Mask)
		nameLen := uint32(raw.Len)
		next := unix.SizeofInotifyEvent + nameLen

		// Overflow records carry wd == -1, which never matches a
		// registered watch below, so they fall out silently; this
		// preserves the documented limitation instead of surfacing
		// IN_Q_OVERFLOW as an error (see design notes on fidelity to
		// the original implementation).
		wd := uint32(raw.Wd)

		m.mu.RLock()
		w, ok := m.byWd[wd]
		m.mu.RUnlock()

		if mask&unix.IN_IGNORED != 0 {
			m.mu.Lock()
			delete(m.byWd, wd)
			m.mu.Unlock()
			offset += next
			continue
		}

		if ok && w.Enabled() {
			var name string
			if nameLen > 0 {
				raw := (*[unix.PathMax]byte)(unsafe.Pointer(&buf[offset+unix.SizeofInotifyEvent]))[:nameLen:nameLen]
				name = trimNulString(raw)
			}
			if debug {
				internal.Debug(w.Path()+"/"+name, mask)
			}
			events = append(events, newLinuxEvent(w, name, mask)...)
		}

		offset += next
	}
	return events, nil
}

func (m *linuxMonitor) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// newLinuxEvent decodes every single-bit of mask into a unified Event,
// emitting one only for bits also present in the watch's subscribed
// flags. The loop bound (0x10000) sits below IN_ISDIR
// (0x40000000): IN_ISDIR is a modifier, not an event of its own, and is
// therefore never reported separately, matching the original
// implementation.
func newLinuxEvent(w *Watch, name string, mask uint32) []Event {
	var out []Event
	flags := w.Flags()
	for bit := uint32(1); bit < 0x10000; bit <<= 1 {
		if mask&bit == 0 {
			continue
		}
		op, ok := nativeToOp[bit]
		if !ok || flags&op == 0 {
			continue
		}
		out = append(out, Event{Watch: w, Name: name, Op: op})
	}
	return out
}

func trimNulString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
