package workspace

import (
	"os"
)

// FileSystem defines the file system operations a Manager needs
type FileSystem interface {
	Mkdir(path string, perm os.FileMode) error
	Chmod(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) Mkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

func (RealFileSystem) Chmod(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}
