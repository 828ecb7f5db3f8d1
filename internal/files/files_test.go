package files

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Name != "notes.txt" || info.Size != 5 {
		t.Errorf("info = %+v", info)
	}

	if _, err := Inspect(dir); err == nil {
		t.Errorf("directory accepted")
	}
	if _, err := Inspect(filepath.Join(dir, "missing")); err == nil {
		t.Errorf("missing file accepted")
	}
}

func TestInspectAllowsEmptyFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Size != 0 || info.Type != "application/octet-stream" {
		t.Errorf("info = %+v", info)
	}
}

func TestValidateFilesCollectsErrors(t *testing.T) {
	if _, err := ValidateFiles(nil); err == nil {
		t.Errorf("empty list accepted")
	}
	if _, err := ValidateFiles([]string{"/nonexistent/a", "/nonexistent/b"}); err == nil {
		t.Errorf("missing files accepted")
	}
}

func TestArchive(t *testing.T) {
	src := filepath.Join(t.TempDir(), "album")
	if err := os.MkdirAll(filepath.Join(src, "disc1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "disc1", "track.txt"), []byte("la"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := Archive(src, t.TempDir())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if info.Name != "album.zip" {
		t.Errorf("Name = %q", info.Name)
	}

	r, err := zip.OpenReader(info.Path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	want := []string{"album/", "album/disc1/", "album/disc1/track.txt"}
	if len(names) != len(want) {
		t.Fatalf("entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}
}
