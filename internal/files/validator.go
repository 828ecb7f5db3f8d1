package files

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// FileInfo holds information about a file to be sent
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	// Type is the MIME type of the file (e.g., "application/pdf", "text/plain")
	Type string
}

// Inspect checks that path is a readable regular file and describes it.
// Empty files are allowed.
func Inspect(path string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: MimeType(absPath),
	}, nil
}

// MimeType guesses from the extension, defaulting to binary.
func MimeType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// ValidateFiles checks if all files exist and are readable
// Returns a list of FileInfo for valid files and an error if any file is invalid
func ValidateFiles(filePaths []string) ([]FileInfo, error) {
	if len(filePaths) == 0 {
		return nil, fmt.Errorf("no files specified")
	}

	var fileInfos []FileInfo
	var errs []string
	for _, path := range filePaths {
		fileInfo, err := Inspect(path)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		fileInfos = append(fileInfos, fileInfo)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("file validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return fileInfos, nil
}

// GetTotalSize returns the total size of all files
func GetTotalSize(fileInfos []FileInfo) int64 {
	var total int64
	for _, file := range fileInfos {
		total += file.Size
	}
	return total
}
