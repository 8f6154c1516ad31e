package indexer

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
)

const (
	// XrefDir is the directory under the data root holding uncompressed xrefs.
	XrefDir = "xref"

	// CompressedXrefDir holds gzip-compressed xrefs.
	CompressedXrefDir = "xref-gz"
)

// XrefFile returns where the xref of the source file at virtualPath is
// stored. Each variant mirrors the source tree under its own directory, so
// no two source files share an xref path.
func XrefFile(dataRoot, virtualPath string, compressed bool) string {
	dir := XrefDir
	if compressed {
		dir = CompressedXrefDir
	}
	return filepath.Join(dataRoot, dir, filepath.FromSlash(virtualPath))
}

// writeXref renders a as the xref of virtualPath through a temporary file
// in the target directory, so readers never see a partial xref. The same
// file's xref in the other variant is removed.
func writeXref(a analysis.Analyzer, dataRoot, virtualPath string, compress bool) (err error) {
	dst := XrefFile(dataRoot, virtualPath, compress)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create xref directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-xref-*")
	if err != nil {
		return fmt.Errorf("failed to create temp xref: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	var w io.Writer = tmp
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(tmp)
		w = gz
	}
	if err = a.WriteXref(w); err != nil {
		return err
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return fmt.Errorf("failed to compress xref: %w", err)
		}
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp xref: %w", err)
	}
	if err = os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("failed to install xref: %w", err)
	}

	stale := XrefFile(dataRoot, virtualPath, !compress)
	if info, err := os.Lstat(stale); err == nil && info.Mode().IsRegular() {
		_ = os.Remove(stale)
	}
	return nil
}
