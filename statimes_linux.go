//go:build linux

package fsmon

import (
	"os"
	"syscall"
	"time"
)

// fileTimes extracts the access and modification times a poll-backed
// watch diffs between scans. os.FileInfo.Sys() is the standard
// library's own documented way to reach the raw *syscall.Stat_t behind
// an os.Stat/os.Lstat result -- there's no package in the example pack
// that wraps this, so stdlib syscall is used directly rather than
// introducing a parallel stat call through golang.org/x/sys/unix just
// to get at the same struct.
func fileTimes(fi os.FileInfo) (atime, mtime time.Time) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return fi.ModTime(), fi.ModTime()
	}
	return time.Unix(st.Atim.Sec, st.Atim.Nsec), time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
}

// roundFSResolution floors t to whole-second resolution, matching the
// coarsest timestamp granularity the polling backend can portably rely
// on across filesystems.
func roundFSResolution(t time.Time) time.Time {
	return t.Truncate(time.Second)
}
