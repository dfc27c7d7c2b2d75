// Package packager builds the project archive that is uploaded to the
// cloud: every regular file under the project root that survives the
// .sauceignore rules, written as a deterministic zip.
package packager

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/specialistvlad/saucegrid/internal/ctxlog"
	"github.com/specialistvlad/saucegrid/internal/fsutil"
)

// DefaultArchiveName is the archive written into the project root.
const DefaultArchiveName = "__$$cypress-saucelabs$$__.zip"

// epoch is stamped on every entry so equal inputs produce equal archives.
var epoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Result describes a written archive.
type Result struct {
	Path  string
	Files []string // slash-separated, relative to the project root, sorted
	Size  int64
}

// Package archives root into out. A relative out is resolved against root.
func Package(ctx context.Context, root, out string) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	if !filepath.IsAbs(out) {
		out = filepath.Join(root, out)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	absOut, err := filepath.Abs(out)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve archive path: %w", err)
	}

	if _, err := EnsureIgnoreFile(ctx, absRoot); err != nil {
		return nil, err
	}
	archiveRel := ""
	if r, err := filepath.Rel(absRoot, absOut); err == nil && !strings.HasPrefix(r, "..") {
		archiveRel = filepath.ToSlash(r)
	}
	rules, err := LoadRules(absRoot, archiveRel)
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded ignore rules.", "patterns", rules.Patterns())

	var paths []string
	onSkip := func(p string, err error) {
		logger.Debug("Skipping unreadable entry.", "path", p, "error", err)
	}
	for p := range fsutil.Walk(absRoot, onSkip) {
		if p == absOut {
			continue
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			continue
		}
		paths = append(paths, filepath.ToSlash(rel))
	}
	sort.Strings(paths)
	files := rules.Filter(paths)
	logger.Debug("Filtered project files.", "found", len(paths), "kept", len(files))

	res, err := writeArchive(ctx, absRoot, absOut, files)
	if err != nil {
		return nil, err
	}
	logger.Info("📦 Project packaged.", "path", absOut, "files", len(res.Files), "size", humanize.Bytes(uint64(res.Size)))
	return res, nil
}

// writeArchive writes to a temporary file next to out and renames it into
// place, so a failed run never leaves a truncated archive behind.
func writeArchive(ctx context.Context, root, out string, files []string) (*Result, error) {
	tmp, err := os.CreateTemp(filepath.Dir(out), tempArchivePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	written := make([]string, 0, len(files))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := addFile(zw, root, rel)
		if err != nil {
			return nil, err
		}
		if !ok {
			ctxlog.FromContext(ctx).Warn("File disappeared before it could be packaged, skipping.", "file", rel)
			continue
		}
		written = append(written, rel)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmpName, out); err != nil {
		return nil, fmt.Errorf("failed to move archive into place: %w", err)
	}
	committed = true
	return &Result{Path: out, Files: written, Size: info.Size()}, nil
}

// addFile copies one file into the archive. It returns false when the file
// could not be opened, which is not treated as fatal.
func addFile(zw *zip.Writer, root, rel string) (bool, error) {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return false, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return false, nil
	}

	hdr := &zip.FileHeader{Name: rel, Method: zip.Deflate, Modified: epoch}
	hdr.SetMode(info.Mode().Perm())
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return false, fmt.Errorf("failed to add %s to archive: %w", rel, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return false, fmt.Errorf("failed to add %s to archive: %w", rel, err)
	}
	return true, nil
}
