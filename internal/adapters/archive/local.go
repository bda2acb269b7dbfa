// Package archive provides the local artifact store.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

var _ output.Archive = (*Local)(nil)

// Local implements Archive on the local filesystem.
// Every write goes to a temporary file in the target directory and is renamed
// into place, so an interrupted write never leaves a truncated artifact.
type Local struct {
	basePath string
}

// NewLocal creates a local archive rooted at basePath.
func NewLocal(basePath string) *Local {
	return &Local{basePath: basePath}
}

// Root returns the archive root directory.
func (a *Local) Root() string {
	return a.basePath
}

// FullPath resolves an archive path to a filesystem path.
func (a *Local) FullPath(path string) string {
	p := filepath.FromSlash(path)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.basePath, p)
}

// Exists checks if a file exists.
func (a *Local) Exists(path string) (bool, error) {
	_, err := os.Stat(a.FullPath(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, localErr("stat", path, err)
}

// EnsureDir creates a directory and its parents.
func (a *Local) EnsureDir(path string) error {
	if err := os.MkdirAll(a.FullPath(path), 0755); err != nil {
		return localErr("mkdir", path, err)
	}
	return nil
}

// WriteBytes replaces the artifact with data.
func (a *Local) WriteBytes(path string, data []byte) error {
	w, err := a.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return localErr("write", path, err)
	}
	return w.Close()
}

// WriteText replaces the artifact with text.
func (a *Local) WriteText(path string, text string) error {
	return a.WriteBytes(path, []byte(text))
}

// ReadBytes returns the artifact's contents.
func (a *Local) ReadBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(a.FullPath(path))
	if err != nil {
		return nil, localErr("read", path, err)
	}
	return data, nil
}

// Create opens a streaming writer. The artifact appears under path on Close;
// Abort discards it.
func (a *Local) Create(path string) (output.ArtifactWriter, error) {
	dest := a.FullPath(path)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, localErr("mkdir", path, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return nil, localErr("create", path, err)
	}
	return &atomicFile{File: f, dest: dest, path: path}, nil
}

type atomicFile struct {
	*os.File
	dest string
	path string
	done bool
}

func (f *atomicFile) Close() error {
	if f.done {
		return nil
	}
	f.done = true
	tmp := f.Name()
	if err := f.File.Close(); err != nil {
		_ = os.Remove(tmp)
		return localErr("close", f.path, err)
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		_ = os.Remove(tmp)
		return localErr("chmod", f.path, err)
	}
	if err := os.Rename(tmp, f.dest); err != nil {
		_ = os.Remove(tmp)
		return localErr("rename", f.path, err)
	}
	return nil
}

// Abort removes the temporary file.
func (f *atomicFile) Abort() {
	if f.done {
		return
	}
	f.done = true
	_ = f.File.Close()
	_ = os.Remove(f.Name())
}

func localErr(op, path string, err error) error {
	return &domain.FetchError{Operation: op, Name: path, Err: fmt.Errorf("%w: %v", domain.ErrLocalIO, err)}
}
