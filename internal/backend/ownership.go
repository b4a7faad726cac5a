package backend

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Ownership carries the user and group applied to directories created
// inside a release tree. A zero GID disables the chown/setgid pass, so
// the zero value is safe for unprivileged use (tests, dry runs).
type Ownership struct {
	UID int
	GID int
}

// EnsureDir creates dir and any missing parents below root, applying
// the configured group ownership and setgid mode to every directory it
// created. Directories outside root are never touched.
func EnsureDir(dir, root string, own Ownership) error {
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if own.GID <= 0 {
		return nil
	}
	for d := dir; d != root && d != filepath.Dir(d); d = filepath.Dir(d) {
		if err := os.Chown(d, own.UID, own.GID); err != nil {
			return fmt.Errorf("chowning %s: %w", d, err)
		}
		if err := os.Chmod(d, 0o2775); err != nil {
			return fmt.Errorf("chmodding %s: %w", d, err)
		}
	}
	return nil
}

// CopyFile copies src to dest unless dest already exists, so that
// re-running a promotion never rewrites artifacts already in place.
func CopyFile(src, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	return ReplaceFile(src, dest)
}

// ReplaceFile copies src over dest, replacing any existing file. The
// write goes through a temp file and rename so readers never see a
// partial artifact.
func ReplaceFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
