package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const wavExt = ".wav"

var (
	// ErrNotFound is returned when a named recording does not exist.
	ErrNotFound = errors.New("recording not found")
	// ErrInvalidName is returned for names that are not plain .wav file names.
	ErrInvalidName = errors.New("invalid recording name")
)

// FileInfo contains information about a saved recording
type FileInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	DownloadURL  string    `json:"download_url"`
}

// Store saves frozen recordings as timestamped .wav files in one directory.
type Store struct {
	dir    string
	prefix string
	layout string
	now    func() time.Time

	// serializes name allocation so two saves in the same second never collide
	mutex sync.Mutex
}

// New creates a store rooted at dir. Files are named prefix + now.Format(layout) + ".wav".
func New(dir, prefix, layout string) *Store {
	return &Store{
		dir:    dir,
		prefix: prefix,
		layout: layout,
		now:    time.Now,
	}
}

// Dir returns the directory recordings are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data to a new timestamped file and returns its path.
// The file appears atomically: it is written under a temporary name and renamed.
func (s *Store) Save(data []byte) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path, err := s.nextPath()
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".freeze-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write recording: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize recording: %w", err)
	}

	slog.Debug("Recording saved", "path", path, "size", len(data))
	return path, nil
}

// nextPath returns an unused file name for the current time, adding _N on collision.
func (s *Store) nextPath() (string, error) {
	base := s.prefix + s.now().Format(s.layout)
	for i := 0; i < 1000; i++ {
		name := base + wavExt
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, wavExt)
		}
		path := filepath.Join(s.dir, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no free file name for %s", base)
}

// List returns saved recordings, newest first. A missing directory yields no files.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []FileInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	files := []FileInfo{}
	for _, entry := range entries {
		if entry.IsDir() || !isRecordingName(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", entry.Name(), "error", err)
			continue
		}

		files = append(files, FileInfo{
			Name:         entry.Name(),
			Path:         filepath.Join(s.dir, entry.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			DownloadURL:  fmt.Sprintf("/api/files/download/%s", entry.Name()),
		})
	}

	// Sort files by modification time (newest first), name as tie-break
	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.After(files[j].ModTime)
		}
		return files[i].Name > files[j].Name
	})

	return files, nil
}

// Open opens a saved recording by file name for reading.
func (s *Store) Open(name string) (*os.File, FileInfo, error) {
	if !isRecordingName(name) {
		return nil, FileInfo{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, FileInfo{}, fmt.Errorf("failed to open recording: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, FileInfo{}, fmt.Errorf("failed to stat recording: %w", err)
	}

	return f, FileInfo{
		Name:         name,
		Path:         path,
		Size:         info.Size(),
		SizeHuman:    formatBytes(info.Size()),
		ModTime:      info.ModTime(),
		ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
		DownloadURL:  fmt.Sprintf("/api/files/download/%s", name),
	}, nil
}

// ExportAll copies every saved recording into dest. Files already present in
// dest with the same size are skipped. It returns the number of files copied.
func (s *Store) ExportAll(dest string) (int, error) {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	files, err := s.List()
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, file := range files {
		target := filepath.Join(dest, file.Name)
		if existing, err := os.Stat(target); err == nil && existing.Size() == file.Size {
			slog.Debug("Skipping already exported recording", "file", file.Name)
			continue
		}

		if err := copyFile(file.Path, target); err != nil {
			return copied, fmt.Errorf("failed to export %s: %w", file.Name, err)
		}
		copied++
		slog.Info("Exported recording", "file", file.Name, "dest", dest)
	}

	return copied, nil
}

// PurgeExported deletes every saved recording that has a copy of the same size
// in dest. It returns the number of recordings deleted.
func (s *Store) PurgeExported(dest string) (int, error) {
	files, err := s.List()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, file := range files {
		exported, err := os.Stat(filepath.Join(dest, file.Name))
		if err != nil || exported.Size() != file.Size {
			slog.Warn("Keeping recording without a matching export", "file", file.Name)
			continue
		}
		if err := s.Delete(file.Name); err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}

// Delete removes a saved recording by file name.
func (s *Store) Delete(name string) error {
	if !isRecordingName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete recording: %w", err)
	}

	slog.Info("Recording deleted", "file", name)
	return nil
}

// DeleteAll removes every saved recording and returns how many were deleted.
// Other files in the directory are left alone.
func (s *Store) DeleteAll() (int, error) {
	files, err := s.List()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, file := range files {
		if err := s.Delete(file.Name); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// isRecordingName rejects anything but a plain file name ending in .wav
func isRecordingName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), wavExt)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
