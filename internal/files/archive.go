package files

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Archive zips dir into a new file under tmpDir and describes the archive.
// The caller removes the archive when done with it.
func Archive(dir, tmpDir string) (FileInfo, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: %w", dir, err)
	}
	if !info.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: not a directory", dir)
	}

	target := filepath.Join(tmpDir, filepath.Base(filepath.Clean(dir))+".zip")
	if err := zipDirectory(dir, target); err != nil {
		os.Remove(target)
		return FileInfo{}, fmt.Errorf("archive %s: %w", dir, err)
	}
	return Inspect(target)
}

func zipDirectory(source, target string) error {
	zipFile, err := os.Create(target)
	if err != nil {
		return err
	}
	defer zipFile.Close()

	archive := zip.NewWriter(zipFile)
	baseDir := filepath.Dir(filepath.Clean(source))

	walkErr := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(baseDir, path)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)
		if info.IsDir() {
			header.Name += "/"
		} else {
			header.Method = zip.Deflate
		}

		writer, err := archive.CreateHeader(header)
		if err != nil || info.IsDir() {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(writer, file)
		return err
	})
	if walkErr != nil {
		archive.Close()
		return walkErr
	}
	return archive.Close()
}
