package main

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// =============================================================================
// File Operations
// =============================================================================

// copyFile copies src to dst byte for byte and carries over the permission
// bits and modification time. dst must not exist.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return errors.Wrap(err, "copying file content")
	}
	if err := dstFile.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	// OpenFile applies the umask, so set the mode explicitly.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// getFileHash computes an MD5 hash of the first 64KB of a file.
// Returns an empty string if the file cannot be read.
func getFileHash(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.CopyN(h, f, 65536); err != nil && err != io.EOF {
		return ""
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// =============================================================================
// Destination Names
// =============================================================================

// destinationNamer hands out collision-free file names inside destination
// album directories. A name is taken if it exists on disk or was handed out
// earlier in the run, so dry runs resolve the same names as real ones.
type destinationNamer struct {
	reserved map[string]bool
}

func newDestinationNamer() *destinationNamer {
	return &destinationNamer{reserved: make(map[string]bool)}
}

// Resolve returns dir/name, or dir/base_N.ext with the smallest N >= 1 that
// is free, and reserves the result. Suffixed names carry the extension in
// lower case.
func (n *destinationNamer) Resolve(dir, name string) (string, error) {
	base, ext := splitExt(name)
	ext = strings.ToLower(ext)

	candidate := filepath.Join(dir, name)
	for counter := 1; ; counter++ {
		taken, err := n.taken(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			n.reserved[candidate] = true
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, counter, ext))
	}
}

// splitExt splits name into base and extension. Leading dots belong to the
// base, so ".nomedia" has no extension.
func splitExt(name string) (base, ext string) {
	ext = filepath.Ext(strings.TrimLeft(name, "."))
	return strings.TrimSuffix(name, ext), ext
}

func (n *destinationNamer) taken(path string) (bool, error) {
	if n.reserved[path] {
		return true, nil
	}
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "checking %s", path)
}
