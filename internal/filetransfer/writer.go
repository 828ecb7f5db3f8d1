package filetransfer

import (
	"io"
	"os"

	"github.com/BioHazard786/roomlink/internal/utils"
)

// fileWriter stores an incoming file under a name that does not clobber
// existing files.
type fileWriter struct {
	file     *os.File
	path     string
	received uint64
}

func newFileWriter(dir, name string) (*fileWriter, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewFileError("create directory", dir, err)
	}

	path := utils.UniquePath(dir, name)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, NewFileError("create file", name, err)
	}
	return &fileWriter{file: file, path: path}, nil
}

func (w *fileWriter) WriteAt(data []byte, offset uint64) (int, error) {
	if offset != w.received {
		if _, err := w.file.Seek(int64(offset), io.SeekStart); err != nil {
			return 0, NewFileError("seek", w.path, err)
		}
		w.received = offset
	}
	n, err := w.file.Write(data)
	w.received += uint64(n)
	if err != nil {
		return n, NewFileError("write", w.path, err)
	}
	return n, nil
}

// Close closes the file and, unless keep is set, removes the partial file.
func (w *fileWriter) Close(keep bool) error {
	err := w.file.Close()
	if !keep {
		os.Remove(w.path)
	}
	return err
}
