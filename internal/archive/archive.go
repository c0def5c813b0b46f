// Package archive extracts uploaded zip archives with path-traversal
// protection: every entry must land inside the extraction root.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned when an archive entry would escape the
// extraction root (absolute path or ".." traversal).
var ErrUnsafePath = errors.New("zip contains unsafe path traversal")

// maxEntrySize bounds a single decompressed entry (256 MiB) to keep zip
// bombs from filling the disk.
const maxEntrySize = 256 << 20

// IsZip reports whether data looks like a readable zip archive.
func IsZip(data []byte) bool {
	_, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	return err == nil
}

// ExtractZip unpacks the archive bytes into destDir. All entry paths are
// validated before anything is written, so a bad entry never leaves a
// partial tree of its siblings behind.
func ExtractZip(data []byte, destDir string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	for _, entry := range reader.File {
		if !entrySafe(entry.Name) {
			return ErrUnsafePath
		}
	}

	for _, entry := range reader.File {
		if err := extractEntry(entry, destDir); err != nil {
			return err
		}
	}
	return nil
}

func entrySafe(name string) bool {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return false
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

func extractEntry(entry *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(entry.Name))

	if entry.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", entry.Name, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent of %s: %w", entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, entry.Mode().Perm()|0200)
	if err != nil {
		return fmt.Errorf("create file %s: %w", entry.Name, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(src, maxEntrySize)); err != nil {
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return nil
}
