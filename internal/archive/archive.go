// Package archive packs a backup directory into a compressed tar with a
// MANIFEST.json of blake3 digests, and verifies such archives.
package archive

import (
	"archive/tar"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"cloudia/internal/backup"
	"cloudia/internal/concurrency"
	"cloudia/internal/logger"
)

const ManifestName = "MANIFEST.json"

// Format is the compression of the tar stream, named by file extension.
type Format string

const (
	Zstd   Format = "zst"
	Brotli Format = "br"
)

// ParseFormat accepts "zst", "zstd", "br" and "brotli".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "zst", "zstd":
		return Zstd, nil
	case "br", "brotli":
		return Brotli, nil
	}
	return "", fmt.Errorf("archive: unknown format %q (use zst or br)", s)
}

// FormatOf picks the format from an archive file name.
func FormatOf(path string) (Format, error) {
	switch {
	case strings.HasSuffix(path, ".tar.zst"):
		return Zstd, nil
	case strings.HasSuffix(path, ".tar.br"):
		return Brotli, nil
	}
	return "", fmt.Errorf("archive: %s is not a .tar.zst or .tar.br file", filepath.Base(path))
}

type Entry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Blake3 string `json:"blake3"`
}

type Manifest struct {
	ID       string    `json:"id"`
	Platform string    `json:"platform"`
	Dir      string    `json:"dir"`
	Created  time.Time `json:"created"`
	Files    []Entry   `json:"files"`
}

type Options struct {
	Format  Format
	Workers int
	Now     func() time.Time
}

// Result describes a written archive.
type Result struct {
	Path     string
	Size     int64
	Manifest Manifest
}

// Digest returns the blake3 hex digest of b.
func Digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Create archives the backup files of dir into <root>/buckets/archives.
func Create(ctx context.Context, store *backup.Store, dir string, opts Options) (Result, error) {
	if opts.Format == "" {
		opts.Format = Zstd
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if !store.Exists(dir) {
		return Result{}, fmt.Errorf("Backup directory not found: %s", store.RelDir(dir))
	}
	files, err := store.Files(dir)
	if err != nil {
		return Result{}, fmt.Errorf("archive: list %s: %w", dir, err)
	}

	// Read and hash in parallel; the manifest keeps the order of Files.
	res := concurrency.ProcessParallel(ctx, files, concurrency.ParallelOptions{MaxWorkers: opts.Workers},
		func(ctx context.Context, _ int, path string) (payload, error) {
			b, err := os.ReadFile(path)
			if err != nil {
				return payload{}, err
			}
			return payload{entry: Entry{Name: filepath.Base(path), Size: int64(len(b)), Blake3: Digest(b)}, data: b}, nil
		})
	if err := concurrency.FirstError(res); err != nil {
		return Result{}, fmt.Errorf("archive: read: %w", err)
	}
	items := make([]payload, len(res))
	for i, r := range res {
		items[i] = r.Value
	}

	created := now().UTC()
	m := Manifest{
		ID:       uuid.NewString(),
		Platform: store.Platform,
		Dir:      dir,
		Created:  created,
		Files:    make([]Entry, len(items)),
	}
	for i, it := range items {
		m.Files[i] = it.entry
	}

	outDir := filepath.Join(store.Root, "buckets", "archives")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("archive: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s.tar.%s", dir, store.Platform, created.Format("20060102T150405"), opts.Format)
	path := filepath.Join(outDir, name)

	f, err := os.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("archive: %w", err)
	}
	werr := write(f, opts.Format, m, items)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return Result{}, fmt.Errorf("archive: write %s: %w", name, werr)
	}

	st, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("archive: %w", err)
	}
	logger.Debug("archive %s: %d files, %d bytes", name, len(m.Files), st.Size())
	return Result{Path: path, Size: st.Size(), Manifest: m}, nil
}

func compressor(w io.Writer, f Format) (io.WriteCloser, error) {
	switch f {
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case Brotli:
		return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
	}
	return nil, fmt.Errorf("archive: unknown format %q", f)
}

func decompressor(r io.Reader, f Format) (io.Reader, func(), error) {
	switch f {
	case Zstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	case Brotli:
		return brotli.NewReader(r), func() {}, nil
	}
	return nil, nil, fmt.Errorf("archive: unknown format %q", f)
}

// payload is one file read for archiving.
type payload struct {
	entry Entry
	data  []byte
}

func write(w io.Writer, f Format, m Manifest, files []payload) error {
	cw, err := compressor(w, f)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	manifest, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}
	if err := addFile(tw, ManifestName, manifest, m.Created); err != nil {
		return err
	}
	for _, p := range files {
		if err := addFile(tw, p.entry.Name, p.data, m.Created); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}

func addFile(tw *tar.Writer, name string, b []byte, mod time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(b)),
		ModTime: mod,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(b)
	return err
}

// Check is the verification result of one archived file.
type Check struct {
	Name string
	OK   bool
}

// Verify re-reads the archive at path and compares every file against the
// digest recorded in its manifest. Files listed in the manifest but absent
// from the archive are reported as failed.
func Verify(path string) (Manifest, []Check, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Manifest{}, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	r, done, err := decompressor(f, format)
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("archive: %w", err)
	}
	defer done()

	tr := tar.NewReader(r)
	var m Manifest
	seen := map[string]string{}
	first := true
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Manifest{}, nil, fmt.Errorf("archive: read %s: %w", filepath.Base(path), err)
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return Manifest{}, nil, fmt.Errorf("archive: read %s: %w", hdr.Name, err)
		}
		if first {
			if hdr.Name != ManifestName {
				return Manifest{}, nil, fmt.Errorf("archive: %s has no %s", filepath.Base(path), ManifestName)
			}
			if err := json.Unmarshal(b, &m); err != nil {
				return Manifest{}, nil, fmt.Errorf("archive: invalid %s: %w", ManifestName, err)
			}
			first = false
			continue
		}
		seen[hdr.Name] = Digest(b)
	}
	if first {
		return Manifest{}, nil, fmt.Errorf("archive: %s is empty", filepath.Base(path))
	}

	checks := make([]Check, 0, len(m.Files))
	for _, e := range m.Files {
		got, ok := seen[e.Name]
		checks = append(checks, Check{Name: e.Name, OK: ok && got == e.Blake3})
	}
	return m, checks, nil
}
