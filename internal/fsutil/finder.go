// Package fsutil provides file system utility functions.
package fsutil

import (
	"io/fs"
	"iter"
	"os"
	"path/filepath"
)

// SkipFunc is called for every entry Walk could not read. Traversal
// continues after it returns.
type SkipFunc func(path string, err error)

// Walk lazily yields the path of every regular file under root, including
// symlinks that resolve to regular files. Directories are traversed but not
// yielded, and symlinked directories are not followed.
//
// Entries that fail with an I/O error (permission denied, broken symlink,
// removed mid-walk) are reported to onSkip, which may be nil.
func Walk(root string, onSkip SkipFunc) iter.Seq[string] {
	skip := func(p string, err error) {
		if onSkip != nil {
			onSkip(p, err)
		}
	}

	return func(yield func(string) bool) {
		stack := []string{root}
		for len(stack) > 0 {
			dir := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			entries, err := os.ReadDir(dir)
			if err != nil {
				skip(dir, err)
				continue
			}

			var subdirs []string
			for _, e := range entries {
				p := filepath.Join(dir, e.Name())
				switch {
				case e.IsDir():
					subdirs = append(subdirs, p)
				case e.Type().IsRegular():
					if !yield(p) {
						return
					}
				case e.Type()&fs.ModeSymlink != 0:
					info, err := os.Stat(p)
					if err != nil {
						skip(p, err)
						continue
					}
					if info.Mode().IsRegular() && !yield(p) {
						return
					}
				}
			}
			// Pushed in reverse so subdirectories pop in lexical order.
			for i := len(subdirs) - 1; i >= 0; i-- {
				stack = append(stack, subdirs[i])
			}
		}
	}
}
