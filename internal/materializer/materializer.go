// Package materializer writes ChunkSets to fresh temporary files for the
// Oracle to feed to a candidate subject, and guarantees their cleanup.
package materializer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/calvinalkan/ddmin/internal/chunkset"
)

// writeBufSize bounds the tempfile write buffer so large inputs don't get
// held entirely in memory.
const writeBufSize = 4096

const tempFilePrefix = "ddmin-"

// Materializer writes ChunkSets to a process-local temporary directory.
type Materializer struct {
	// Dir is the directory new tempfiles are created in. Empty means the
	// OS default (os.TempDir()).
	Dir string
}

// New returns a Materializer rooted at dir. An empty dir uses os.TempDir().
func New(dir string) *Materializer {
	return &Materializer{Dir: dir}
}

// Write materializes cs against original and writes it to a fresh file with
// prefix "ddmin-" in m.Dir. It returns the file's path and a release func
// that unlinks it; release must be called on every exit path, including
// early returns and panics recovered higher up the call stack.
//
// I/O errors are propagated to the caller; partially written files are never
// silently truncated into success.
func (m *Materializer) Write(original io.ReaderAt, cs chunkset.ChunkSet) (path string, release func(), err error) {
	f, err := os.CreateTemp(m.Dir, tempFilePrefix+"*")
	if err != nil {
		return "", nil, fmt.Errorf("creating tempfile: %w", err)
	}

	path = f.Name()
	release = func() { _ = os.Remove(path) }

	if writeErr := writeChunks(f, original, cs); writeErr != nil {
		_ = f.Close()
		release()

		return "", nil, writeErr
	}

	if syncErr := f.Sync(); syncErr != nil {
		_ = f.Close()
		release()

		return "", nil, fmt.Errorf("syncing tempfile %s: %w", path, syncErr)
	}

	if closeErr := f.Close(); closeErr != nil {
		release()

		return "", nil, fmt.Errorf("closing tempfile %s: %w", path, closeErr)
	}

	return path, release, nil
}

func writeChunks(f *os.File, original io.ReaderAt, cs chunkset.ChunkSet) error {
	w := bufio.NewWriterSize(f, writeBufSize)

	for _, c := range cs {
		if wErr := copyChunk(w, original, c); wErr != nil {
			return wErr
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing tempfile %s: %w", f.Name(), err)
	}

	return nil
}

func copyChunk(w *bufio.Writer, original io.ReaderAt, c chunkset.Chunk) error {
	remaining := c.Len()
	offset := c.Start
	buf := make([]byte, writeBufSize)

	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}

		read, err := original.ReadAt(buf[:n], offset)
		if read > 0 {
			if _, wErr := w.Write(buf[:read]); wErr != nil {
				return fmt.Errorf("writing chunk bytes: %w", wErr)
			}

			offset += int64(read)
			remaining -= int64(read)
		}

		if err != nil && err != io.EOF {
			return fmt.Errorf("reading original input: %w", err)
		}

		if err == io.EOF && read == 0 {
			return fmt.Errorf("reading original input: %w", io.ErrUnexpectedEOF)
		}
	}

	return nil
}

// AbsPath returns an absolute form of path, for use in @ expansion where the
// template grammar requires the absolute temporary file path.
func AbsPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}

	return filepath.Abs(path)
}
