package config

import (
	"os"
	"path/filepath"
)

// SamePath returns true if a and b refer to the same filesystem entry.
// It handles case-insensitive filesystems (e.g. macOS APFS) and symlinks
// by comparing device+inode via os.SameFile.
func SamePath(a, b string) bool {
	if a == b {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}

// dedupeDirs resolves extra directories relative to workspace and drops
// entries that point at the workspace itself or repeat an earlier entry.
func dedupeDirs(workspace string, dirs []string) []string {
	var out []string
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			d = filepath.Join(workspace, d)
		}
		d = filepath.Clean(d)
		if SamePath(d, workspace) {
			continue
		}
		dup := false
		for _, seen := range out {
			if SamePath(seen, d) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, d)
		}
	}
	return out
}
