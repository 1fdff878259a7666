package vfs

import (
	"fmt"
	"io"
	"os"

	"github.com/aalhour/embedkv/errs"
)

// Disk is the on-disk FS implementation backed by the os package.
type Disk struct{}

// NewDisk returns the on-disk FS implementation.
func NewDisk() FS { return Disk{} }

type diskRandomAccessFile struct{ f *os.File }

func (d diskRandomAccessFile) ReadAt(buf []byte, offset int64) (int, error) {
	return d.f.ReadAt(buf, offset)
}
func (d diskRandomAccessFile) Close() error { return d.f.Close() }

func (Disk) NewRandomAccessFile(path string) (RandomAccessFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.IOError("open", path, err)
	}
	return diskRandomAccessFile{f}, nil
}

type diskWritableFile struct{ f *os.File }

func (d diskWritableFile) Append(data []byte) (int, error) {
	n, err := d.f.Write(data)
	if err != nil {
		return n, errs.IOError("write", d.f.Name(), err)
	}
	return n, nil
}
func (d diskWritableFile) Flush() error { return nil }
func (d diskWritableFile) Sync() error {
	if err := d.f.Sync(); err != nil {
		return errs.IOError("sync", d.f.Name(), err)
	}
	return nil
}
func (d diskWritableFile) Close() error { return d.f.Close() }

func (Disk) NewWritableFile(path string) (WritableFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errs.IOError("create", path, err)
	}
	return diskWritableFile{f}, nil
}

func (Disk) NewAppendingFile(path string) (WritableFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errs.IOError("open-append", path, err)
	}
	return diskWritableFile{f}, nil
}

type diskSequentialFile struct{ f *os.File }

func (d diskSequentialFile) Read(buf []byte) (int, error) { return d.f.Read(buf) }
func (d diskSequentialFile) Close() error                 { return d.f.Close() }

func (Disk) NewSequentialFile(path string) (SequentialFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.IOError("open", path, err)
	}
	return diskSequentialFile{f}, nil
}

func (Disk) FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, errs.IOError("stat", path, err)
	}
	return info.Size(), nil
}

func (Disk) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (Disk) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return errs.IOError("remove", path, err)
	}
	return nil
}

func (Disk) Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return errs.IOError("rename", oldPath, err)
	}
	return nil
}

func (Disk) MkdirAll(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errs.IOError("mkdir", path, err)
	}
	return nil
}

func (Disk) GetChildren(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errs.IOError("readdir", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

type diskLock struct{ f *os.File }

func (d diskLock) Close() error {
	path := d.f.Name()
	err := d.f.Close()
	os.Remove(path)
	return err
}

func (Disk) LockFile(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", errs.ErrAlreadyExists, path)
		}
		return nil, errs.IOError("lock", path, err)
	}
	return diskLock{f}, nil
}
