// Package fs is the minimal byte-level I/O abstraction the engine needs
// as an external collaborator: fixed-width read/write, append, sync, and
// delete over a single file. Files are accessed with positioned reads and
// writes; nothing is memory-mapped. Generalized
// from "one rotating log segment" to "any single data file the engine
// owns".
package fs

import (
	"io"
	"os"

	"github.com/lsmkv/lsmkv/errs"
)

// File wraps a single on-disk file with the narrow set of operations the
// storage engine needs: it is not a general-purpose filesystem layer.
type File struct {
	path string
	f    *os.File
}

// Create creates (truncating if present) the file at path for read/write.
func Create(path string) (*File, error) {
	const op = "fs.Create"
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}
	return &File{path: path, f: f}, nil
}

// OpenExisting opens an existing file for read/write without truncation.
func OpenExisting(path string) (*File, error) {
	const op = "fs.OpenExisting"
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}
	return &File{path: path, f: f}, nil
}

// OpenReadOnly opens an existing file for read access only.
func OpenReadOnly(path string) (*File, error) {
	const op = "fs.OpenReadOnly"
	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}
	return &File{path: path, f: f}, nil
}

// Path returns the filesystem path this File was opened from.
func (fl *File) Path() string { return fl.path }

// ReadAt reads len(buf) bytes starting at byte offset off.
func (fl *File) ReadAt(buf []byte, off int64) error {
	const op = "fs.ReadAt"
	if _, err := fl.f.ReadAt(buf, off); err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	return nil
}

// ReadAll reads the entire file into memory.
func (fl *File) ReadAll() ([]byte, error) {
	const op = "fs.ReadAll"
	if _, err := fl.f.Seek(0, io.SeekStart); err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}
	data, err := io.ReadAll(fl.f)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}
	return data, nil
}

// WriteAt writes buf starting at byte offset off.
func (fl *File) WriteAt(buf []byte, off int64) error {
	const op = "fs.WriteAt"
	if _, err := fl.f.WriteAt(buf, off); err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	return nil
}

// Append writes buf at the current end of the file and returns the offset
// it was written at.
func (fl *File) Append(buf []byte) (int64, error) {
	const op = "fs.Append"
	off, err := fl.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errs.Wrap(op, errs.KindIO, err)
	}
	if _, err := fl.f.Write(buf); err != nil {
		return 0, errs.Wrap(op, errs.KindIO, err)
	}
	return off, nil
}

// Size returns the current file size in bytes.
func (fl *File) Size() (int64, error) {
	const op = "fs.Size"
	info, err := fl.f.Stat()
	if err != nil {
		return 0, errs.Wrap(op, errs.KindIO, err)
	}
	return info.Size(), nil
}

// Sync flushes the file to stable storage.
func (fl *File) Sync() error {
	const op = "fs.Sync"
	if err := fl.f.Sync(); err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	return nil
}

// Close closes the underlying file descriptor.
func (fl *File) Close() error {
	const op = "fs.Close"
	if err := fl.f.Close(); err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	return nil
}

// Delete removes the file at path.
func Delete(path string) error {
	const op = "fs.Delete"
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(op, errs.KindIO, err)
	}
	return nil
}

// WriteFileAtomic writes data to a temp file in the same directory as path
// and renames it into place, so a reader never observes a partial write
// (§4.5's "write the full blob atomically and fsync"). tempSuffix should be
// unique per call (the SST builder uses a uuid token).
func WriteFileAtomic(path string, data []byte, tempSuffix string) error {
	const op = "fs.WriteFileAtomic"
	tmp := path + ".tmp-" + tempSuffix

	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(op, errs.KindIO, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(op, errs.KindIO, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(op, errs.KindIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.Wrap(op, errs.KindIO, err)
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	const op = "fs.EnsureDir"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(op, errs.KindIO, err)
	}
	return nil
}

// ReadDir lists entries in dir.
func ReadDir(dir string) ([]os.DirEntry, error) {
	const op = "fs.ReadDir"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindIO, err)
	}
	return entries, nil
}
