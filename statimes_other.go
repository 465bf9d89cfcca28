//go:build !linux && !windows

package fsmon

import (
	"os"
	"time"
)

// fileTimes degrades to ModTime on platforms outside the two this
// module has a native stat-time extraction for, and reports a zero
// atime. Access-time diffing is consequently unavailable here -- Modify
// and the directory-contents diff (Create/Delete) are unaffected.
func fileTimes(fi os.FileInfo) (atime, mtime time.Time) {
	return time.Time{}, fi.ModTime()
}

func roundFSResolution(t time.Time) time.Time {
	return t.Truncate(time.Second)
}
