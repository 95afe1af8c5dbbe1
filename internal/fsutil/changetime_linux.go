//go:build linux

package fsutil

import (
	"io/fs"
	"syscall"
	"time"
)

// ChangeTime returns the inode change time of info, which is what the
// lifecycle treats as an artifact's creation time. It falls back to the
// modification time when the platform data is unavailable.
func ChangeTime(info fs.FileInfo) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec))
}
