// Package backup manages the local JSON copies kept under
// <root>/buckets/backups/<Dir>/<platform>.
package backup

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"cloudia/internal/record"
)

// Outcome of writing one backup file.
type Outcome int

const (
	Saved Outcome = iota
	Unchanged
)

func (o Outcome) String() string {
	if o == Unchanged {
		return "unchanged"
	}
	return "saved"
}

// Store is rooted at the project root and scoped to one platform.
type Store struct {
	Root     string
	Platform string
}

func New(root, platform string) *Store {
	return &Store{Root: root, Platform: platform}
}

// RelDir is the directory as shown to the user: /buckets/backups/<dir>/<platform>.
func (s *Store) RelDir(dir string) string {
	return "/buckets/backups/" + dir + "/" + s.Platform
}

// Path returns the absolute directory for dir without creating it.
func (s *Store) Path(dir string) string {
	return filepath.Join(s.Root, "buckets", "backups", dir, s.Platform)
}

// File returns the absolute path of name inside dir.
func (s *Store) File(dir, name string) string {
	return filepath.Join(s.Path(dir), name)
}

// Dir creates the backup directory one level at a time and returns it.
func (s *Store) Dir(dir string) (string, error) {
	abs := s.Root
	rel := ""
	for _, part := range []string{"buckets", "backups", dir, s.Platform} {
		abs = filepath.Join(abs, part)
		rel += "/" + part
		if st, err := os.Stat(abs); err == nil && st.IsDir() {
			continue
		}
		if err := os.Mkdir(abs, 0o755); err != nil {
			return "", fmt.Errorf("Backup directory [%s] can not be created", rel)
		}
	}
	return abs, nil
}

// Exists reports whether the backup directory for dir is present.
func (s *Store) Exists(dir string) bool {
	st, err := os.Stat(s.Path(dir))
	return err == nil && st.IsDir()
}

// Files lists the *.json files of dir sorted by name.
func (s *Store) Files(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.Path(dir), "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Save writes v in canonical pretty form. If the file already holds the
// same bytes nothing is written and Unchanged is returned.
func (s *Store) Save(path string, v any) (Outcome, error) {
	b, err := record.Pretty(v)
	if err != nil {
		return Saved, fmt.Errorf("backup: encode %s: %w", filepath.Base(path), err)
	}
	return WriteIfChanged(path, b)
}

// WriteIfChanged writes b to path unless the file already has that content.
func WriteIfChanged(path string, b []byte) (Outcome, error) {
	if cur, err := os.ReadFile(path); err == nil && bytes.Equal(cur, b) {
		return Unchanged, nil
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return Saved, err
	}
	return Saved, nil
}

// Load reads a backup file that must hold a JSON object.
func (s *Store) Load(path string) (record.Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("Backup file not found: %s", path)
		}
		return nil, fmt.Errorf("Failed to read backup file: %s", path)
	}
	rec, err := record.DecodeObject(b)
	if err != nil {
		return nil, fmt.Errorf("Invalid JSON in backup file: %s", path)
	}
	return rec, nil
}

// Read is Load without the error wording, for listings that tolerate broken
// files. A file that cannot be parsed yields an empty record.
func Read(path string) record.Record {
	b, err := os.ReadFile(path)
	if err != nil {
		return record.Record{}
	}
	rec, err := record.DecodeObject(b)
	if err != nil {
		return record.Record{}
	}
	return rec
}
