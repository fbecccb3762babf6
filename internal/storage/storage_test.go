package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "recordings"), "mybackrec_", "20060102_150405")
	s.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }
	return s
}

func TestSave_TimestampedName(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Save([]byte("RIFF"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := filepath.Base(path); got != "mybackrec_20260314_092653.wav" {
		t.Errorf("file name = %s, want mybackrec_20260314_092653.wav", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "RIFF" {
		t.Errorf("file contents = %q, want %q", data, "RIFF")
	}
}

func TestSave_CollisionGetsSuffix(t *testing.T) {
	s := newTestStore(t)

	first, _ := s.Save([]byte("a"))
	second, err := s.Save([]byte("b"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first == second {
		t.Fatal("second save in the same second overwrote the first")
	}
	if got := filepath.Base(second); got != "mybackrec_20260314_092653_1.wav" {
		t.Errorf("second file name = %s, want mybackrec_20260314_092653_1.wav", got)
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	s.Save([]byte("data"))

	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 1 {
		t.Errorf("expected exactly one file in output dir, got %d", len(entries))
	}
}

func TestList_NewestFirstAndFiltered(t *testing.T) {
	s := newTestStore(t)
	os.MkdirAll(s.Dir(), 0755)

	old := filepath.Join(s.Dir(), "mybackrec_old.wav")
	recent := filepath.Join(s.Dir(), "mybackrec_recent.wav")
	os.WriteFile(old, []byte("old"), 0644)
	os.WriteFile(recent, []byte("recent!"), 0644)
	os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(s.Dir(), ".freeze-123.tmp"), []byte("x"), 0644)

	past := time.Now().Add(-time.Hour)
	os.Chtimes(old, past, past)

	files, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List() returned %d files, want 2: %+v", len(files), files)
	}
	if files[0].Name != "mybackrec_recent.wav" || files[1].Name != "mybackrec_old.wav" {
		t.Errorf("List() order = [%s %s], want newest first", files[0].Name, files[1].Name)
	}
	if files[0].Size != 7 {
		t.Errorf("Size = %d, want 7", files[0].Size)
	}
	if files[0].DownloadURL != "/api/files/download/mybackrec_recent.wav" {
		t.Errorf("DownloadURL = %s", files[0].DownloadURL)
	}
}

func TestList_MissingDirectory(t *testing.T) {
	s := newTestStore(t)

	files, err := s.List()
	if err != nil {
		t.Fatalf("List on missing directory: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("List() returned %d files, want 0", len(files))
	}
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)
	path, _ := s.Save([]byte("payload"))

	f, info, err := s.Open(filepath.Base(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	data, _ := io.ReadAll(f)
	if !bytes.Equal(data, []byte("payload")) {
		t.Errorf("contents = %q, want payload", data)
	}
	if info.Size != 7 {
		t.Errorf("Size = %d, want 7", info.Size)
	}
}

func TestOpen_RejectsBadNames(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"", "../secret.wav", "a/b.wav", `a\b.wav`, "notes.txt", ".hidden.wav"} {
		if _, _, err := s.Open(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Open(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
	if _, _, err := s.Open("missing.wav"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing.wav) error = %v, want ErrNotFound", err)
	}
}

func TestExportAll(t *testing.T) {
	s := newTestStore(t)
	s.Save([]byte("one"))
	s.Save([]byte("two"))

	dest := filepath.Join(t.TempDir(), "export")
	copied, err := s.ExportAll(dest)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if copied != 2 {
		t.Errorf("copied = %d, want 2", copied)
	}

	// A second export skips files already present
	copied, err = s.ExportAll(dest)
	if err != nil {
		t.Fatalf("second ExportAll: %v", err)
	}
	if copied != 0 {
		t.Errorf("second export copied = %d, want 0", copied)
	}

	data, err := os.ReadFile(filepath.Join(dest, "mybackrec_20260314_092653.wav"))
	if err != nil || string(data) != "one" {
		t.Errorf("exported file = %q, %v; want %q", data, err, "one")
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		wantErr error
	}{
		{"saved recording", "mybackrec_20260314_092653.wav", nil},
		{"missing recording", "missing.wav", ErrNotFound},
		{"empty name", "", ErrInvalidName},
		{"parent traversal", "../secret.wav", ErrInvalidName},
		{"nested path", "a/b.wav", ErrInvalidName},
		{"backslash path", `a\b.wav`, ErrInvalidName},
		{"hidden file", ".hidden.wav", ErrInvalidName},
		{"not a wav", "notes.txt", ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if _, err := s.Save([]byte("payload")); err != nil {
				t.Fatalf("Save: %v", err)
			}

			err := s.Delete(tt.file)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Delete(%q) error = %v, want %v", tt.file, err, tt.wantErr)
				}
				files, _ := s.List()
				if len(files) != 1 {
					t.Errorf("List() after failed delete returned %d files, want 1", len(files))
				}
				return
			}
			if err != nil {
				t.Fatalf("Delete(%q): %v", tt.file, err)
			}
			if _, err := os.Stat(filepath.Join(s.Dir(), tt.file)); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("file still present after Delete: %v", err)
			}
		})
	}
}

func TestDeleteAll(t *testing.T) {
	s := newTestStore(t)
	for _, payload := range []string{"one", "two", "three"} {
		if _, err := s.Save([]byte(payload)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	notes := filepath.Join(s.Dir(), "notes.txt")
	if err := os.WriteFile(notes, []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.DeleteAll()
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}

	files, _ := s.List()
	if len(files) != 0 {
		t.Errorf("List() after DeleteAll returned %d files, want 0", len(files))
	}
	if _, err := os.Stat(notes); err != nil {
		t.Errorf("non-recording file was removed: %v", err)
	}

	// Clearing an empty or missing directory is not an error
	if deleted, err := newTestStore(t).DeleteAll(); err != nil || deleted != 0 {
		t.Errorf("DeleteAll on missing directory = %d, %v; want 0, nil", deleted, err)
	}
}

func TestPurgeExported(t *testing.T) {
	s := newTestStore(t)
	s.Save([]byte("one"))
	s.Save([]byte("two"))

	dest := filepath.Join(t.TempDir(), "export")
	if _, err := s.ExportAll(dest); err != nil {
		t.Fatalf("ExportAll: %v", err)
	}

	// Saved after the export, so it has no copy in dest
	late, _ := s.Save([]byte("three"))
	// A truncated copy must not count as exported
	if err := os.WriteFile(filepath.Join(dest, "mybackrec_20260314_092653_1.wav"), []byte("t"), 0644); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.PurgeExported(dest)
	if err != nil {
		t.Fatalf("PurgeExported: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	files, _ := s.List()
	names := map[string]bool{}
	for _, f := range files {
		names[f.Name] = true
	}
	if names["mybackrec_20260314_092653.wav"] {
		t.Error("exported recording was not purged")
	}
	if !names["mybackrec_20260314_092653_1.wav"] {
		t.Error("recording with a mismatched export was purged")
	}
	if !names[filepath.Base(late)] {
		t.Error("recording saved after the export was purged")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:           "0 B",
		1023:        "1023 B",
		1024:        "1.0 KB",
		2646044:     "2.5 MB",
		10737418240: "10.0 GB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %s, want %s", in, got, want)
		}
	}
}
