//go:build !linux

package fsutil

import (
	"io/fs"
	"time"
)

// ChangeTime returns the modification time on platforms where the inode
// change time is not exposed uniformly.
func ChangeTime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
