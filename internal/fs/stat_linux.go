//go:build linux

package fs

import (
	"io/fs"
	"syscall"
)

// sameFile compares inode and ctime when the platform exposes them.
func sameFile(a, b fs.FileInfo) bool {
	sa, ok := a.Sys().(*syscall.Stat_t)
	if !ok {
		return true
	}
	sb, ok := b.Sys().(*syscall.Stat_t)
	if !ok {
		return true
	}
	return sa.Dev == sb.Dev && sa.Ino == sb.Ino &&
		sa.Ctim.Sec == sb.Ctim.Sec && sa.Ctim.Nsec == sb.Ctim.Nsec
}
