package api

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// movePath moves source to destination. Moving into an existing directory
// places the source under it by name; a rename across filesystems falls back
// to copy-then-delete.
func movePath(source, destination string) error {
	if info, err := os.Stat(destination); err == nil && info.IsDir() {
		destination = filepath.Join(destination, filepath.Base(source))
		if _, err := os.Lstat(destination); err == nil {
			return fmt.Errorf("destination path '%s' already exists", destination)
		}
	}

	err := os.Rename(source, destination)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		return moveCrossDevice(source, destination)
	}
	return err
}

func moveCrossDevice(source, destination string) error {
	info, err := os.Lstat(source)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := copyDir(source, destination); err != nil {
			return err
		}
		return os.RemoveAll(source)
	}
	if err := copyEntry(source, destination, info); err != nil {
		return err
	}
	return os.Remove(source)
}

func copyDir(source, destination string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destination, info.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		src := filepath.Join(source, entry.Name())
		dst := filepath.Join(destination, entry.Name())
		if entry.IsDir() {
			if err := copyDir(src, dst); err != nil {
				return err
			}
			continue
		}
		entryInfo, err := os.Lstat(src)
		if err != nil {
			return err
		}
		if err := copyEntry(src, dst, entryInfo); err != nil {
			return err
		}
	}
	return nil
}

// copyEntry copies a single non-directory entry. Symlinks are recreated
// rather than followed.
func copyEntry(source, destination string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(source)
		if err != nil {
			return err
		}
		return os.Symlink(target, destination)
	}
	return copyFile(source, destination, info)
}

func copyFile(source, destination string, info os.FileInfo) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(destination, info.ModTime(), info.ModTime())
}
