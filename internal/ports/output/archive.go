package output

import "io"

// Archive defines the secondary port for the local artifact store.
// Paths are slash-separated and relative to the archive root; directories
// are created on demand.
type Archive interface {
	// Exists checks if an artifact is present.
	Exists(path string) (bool, error)

	// EnsureDir creates a directory and its parents.
	EnsureDir(path string) error

	// WriteBytes replaces the artifact with data.
	WriteBytes(path string, data []byte) error

	// WriteText replaces the artifact with text.
	WriteText(path string, text string) error

	// Create opens a streaming writer; the artifact appears under path on Close.
	Create(path string) (ArtifactWriter, error)

	// ReadBytes returns the artifact's contents.
	ReadBytes(path string) ([]byte, error)

	// Root returns the archive root directory.
	Root() string
}

// ArtifactWriter streams one artifact. Close publishes it, Abort discards it.
type ArtifactWriter interface {
	io.WriteCloser
	Abort()
}
