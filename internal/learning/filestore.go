package learning

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

type fileData struct {
	Preferences []LearnedPreference `json:"preferences"`
	History     []TaskHistory       `json:"history"`
}

// FileStore keeps preferences and history in a single JSON document. Every
// read parses the whole file and every write rewrites it. The mutex only
// serializes writers within this process.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, logger: slog.Default()}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Preferences() ([]LearnedPreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read().Preferences, nil
}

func (f *FileStore) AddPreference(p LearnedPreference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.read()
	d.Preferences = append(d.Preferences, p)
	return f.write(d)
}

func (f *FileStore) History() ([]TaskHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read().History, nil
}

func (f *FileStore) AddHistory(h TaskHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.read()
	d.History = append(d.History, h)
	return f.write(d)
}

// read returns an empty document when the file is missing or unparsable.
func (f *FileStore) read() fileData {
	var d fileData
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Error("reading fallback file", "path", f.path, "error", err)
		}
		return fileData{Preferences: []LearnedPreference{}, History: []TaskHistory{}}
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		f.logger.Error("parsing fallback file", "path", f.path, "error", err)
		return fileData{Preferences: []LearnedPreference{}, History: []TaskHistory{}}
	}
	if d.Preferences == nil {
		d.Preferences = []LearnedPreference{}
	}
	if d.History == nil {
		d.History = []TaskHistory{}
	}
	return d
}

func (f *FileStore) write(d fileData) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding fallback file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating fallback dir: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("writing fallback file: %w", err)
	}
	return nil
}
