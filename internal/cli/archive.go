package cli

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"cloudia/internal/archive"
	"cloudia/internal/backup"
	"cloudia/internal/domains"
	"cloudia/internal/sftpclient"
	"cloudia/internal/terminal"
)

func newArchiveCommand(a *App) *cobra.Command {
	var format string
	var upload bool

	cmd := &cobra.Command{
		Use:   "archive <domain|all>",
		Short: "Pack local backups into a compressed tar with a blake3 manifest",
		Example: "  cloudia archive apis\n" +
			"  cloudia archive all --format br --upload",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := archive.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cfg.PlatformID == "" {
				return fmt.Errorf("core.erp.platform_id is not defined")
			}

			dirs, err := archiveDirs(args[0])
			if err != nil {
				return err
			}
			out := terminal.New(a.Out)
			store := backup.New(cfg.RootPath, cfg.PlatformID)
			all := args[0] == "all"
			for _, dir := range dirs {
				if all && !store.Exists(dir) {
					out.Linef(" # Skipped: %s (no local backup)", store.RelDir(dir))
					continue
				}
				res, err := archive.Create(cmd.Context(), store, dir, archive.Options{Format: f, Workers: cfg.Workers})
				if err != nil {
					return err
				}
				out.Linef(" + Archive: %s (%d files, %d bytes)", res.Path, len(res.Manifest.Files), res.Size)
				if !upload {
					continue
				}
				remote, err := sftpclient.UploadFile(cmd.Context(), cfg.SFTP, res.Path, filepath.Base(res.Path))
				if err != nil {
					return err
				}
				out.Linef(" + Uploaded: %s", remote)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "zst", "Compression: zst or br")
	cmd.Flags().BoolVar(&upload, "upload", false, "Upload the archive through SFTP (CLOUDIA_SFTP_*)")
	cmd.AddCommand(newVerifyCommand(a))
	return cmd
}

// archiveDirs resolves a script name, or all, to backup directories.
func archiveDirs(name string) ([]string, error) {
	known := domains.BackupDirs()
	if name == "all" {
		dirs := make([]string, 0, len(known))
		for _, d := range known {
			dirs = append(dirs, d)
		}
		sort.Strings(dirs)
		return dirs, nil
	}
	d, ok := known[name]
	if !ok {
		names := make([]string, 0, len(known))
		for k := range known {
			names = append(names, k)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("archive: %s has no backups (one of %v or all)", name, names)
	}
	return []string{d}, nil
}

func newVerifyCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check every file of an archive against its manifest digests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := terminal.New(a.Out)
			m, checks, err := archive.Verify(args[0])
			if err != nil {
				return err
			}
			out.Linef(" - Archive %s [%s/%s] created %s", m.ID, m.Dir, m.Platform, m.Created.Format("2006-01-02 15:04:05"))
			bad := 0
			for _, c := range checks {
				if c.OK {
					out.Linef(" = OK: %s", c.Name)
					continue
				}
				bad++
				out.Linef(" ! Digest mismatch: %s", c.Name)
			}
			if bad > 0 {
				return fmt.Errorf("archive: %d of %d files failed verification", bad, len(checks))
			}
			out.Linef(" + Verified %d files", len(checks))
			return nil
		},
	}
}
