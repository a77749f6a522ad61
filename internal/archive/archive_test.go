package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"cloudia/internal/backup"
)

func seedStore(t *testing.T) *backup.Store {
	t.Helper()
	store := backup.New(t.TempDir(), "acme")
	dir, err := store.Dir("APIs")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_a.json"), []byte(`{"KeyName":"/a"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_b.json"), []byte(`{"KeyName":"/b"}`), 0o644))
	return store
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 8, 30, 15, 0, time.UTC)
}

func TestCreateAndVerify(t *testing.T) {
	for _, f := range []Format{Zstd, Brotli} {
		t.Run(string(f), func(t *testing.T) {
			store := seedStore(t)
			res, err := Create(context.Background(), store, "APIs", Options{Format: f, Workers: 2, Now: fixedNow})
			require.NoError(t, err)

			wantPath := filepath.Join(store.Root, "buckets", "archives", "APIs-acme-20260310T083015.tar."+string(f))
			if res.Path != wantPath {
				t.Errorf("Expected path %s, got %s", wantPath, res.Path)
			}
			require.Positive(t, res.Size)
			require.NotEmpty(t, res.Manifest.ID)

			m, checks, err := Verify(res.Path)
			require.NoError(t, err)
			if diff := cmp.Diff(res.Manifest, m); diff != "" {
				t.Errorf("manifest mismatch (-want +got):\n%s", diff)
			}
			want := []Check{{Name: "_a.json", OK: true}, {Name: "_b.json", OK: true}}
			if diff := cmp.Diff(want, checks); diff != "" {
				t.Errorf("checks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestManifestDigests(t *testing.T) {
	store := seedStore(t)
	res, err := Create(context.Background(), store, "APIs", Options{Now: fixedNow})
	require.NoError(t, err)
	require.Len(t, res.Manifest.Files, 2)
	e := res.Manifest.Files[0]
	if e.Name != "_a.json" || e.Size != int64(len(`{"KeyName":"/a"}`)) {
		t.Errorf("Expected _a.json entry, got %+v", e)
	}
	if e.Blake3 != Digest([]byte(`{"KeyName":"/a"}`)) {
		t.Errorf("Expected digest of file content, got %s", e.Blake3)
	}
	require.Len(t, e.Blake3, 64)
}

func TestVerifyDetectsMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.zst")
	m := Manifest{
		ID:      "x",
		Created: fixedNow(),
		Files: []Entry{
			{Name: "one.json", Blake3: Digest([]byte("one"))},
			{Name: "two.json", Blake3: Digest([]byte("original"))},
			{Name: "gone.json", Blake3: Digest([]byte("gone"))},
		},
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, write(f, Zstd, m, []payload{
		{entry: Entry{Name: "one.json"}, data: []byte("one")},
		{entry: Entry{Name: "two.json"}, data: []byte("tampered")},
	}))
	require.NoError(t, f.Close())

	_, checks, err := Verify(path)
	require.NoError(t, err)
	want := []Check{{"one.json", true}, {"two.json", false}, {"gone.json", false}}
	if diff := cmp.Diff(want, checks); diff != "" {
		t.Errorf("checks mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateMissingDir(t *testing.T) {
	store := backup.New(t.TempDir(), "acme")
	_, err := Create(context.Background(), store, "Checks", Options{})
	require.EqualError(t, err, "Backup directory not found: /buckets/backups/Checks/acme")
}

func TestFormats(t *testing.T) {
	for in, want := range map[string]Format{"": Zstd, "zstd": Zstd, "zst": Zstd, "br": Brotli, "Brotli": Brotli} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("Expected %s for %q, got %s (%v)", want, in, got, err)
		}
	}
	if _, err := ParseFormat("gz"); err == nil {
		t.Errorf("Expected error for gz, got nil")
	}
	if _, err := FormatOf("a.tar.gz"); err == nil || !strings.Contains(err.Error(), "not a .tar.zst") {
		t.Errorf("Expected extension error, got %v", err)
	}
}
