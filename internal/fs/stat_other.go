//go:build !linux

package fs

import "io/fs"

func sameFile(a, b fs.FileInfo) bool { return true }
