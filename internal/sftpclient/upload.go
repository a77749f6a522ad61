// Package sftpclient ships local archives to the SFTP drop configured under
// CLOUDIA_SFTP_*.
package sftpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"cloudia/internal/config"
	"cloudia/internal/logger"
)

const handshakeTimeout = 20 * time.Second

// UploadFile copies localPath to RemoteDir/remoteFileName and returns the
// remote path. The data goes to a ".part" file first and is renamed into
// place once its size matches, so readers of the drop never see half an
// archive.
func UploadFile(ctx context.Context, cfg config.SFTPConfig, localPath string, remoteFileName string) (string, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.Pass == "" {
		return "", fmt.Errorf("sftp: missing env CLOUDIA_SFTP_HOST / CLOUDIA_SFTP_USER / CLOUDIA_SFTP_PASS")
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "/"
	}

	cb, err := hostKeyCallback(cfg)
	if err != nil {
		return "", err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("sftp: open local file: %w", err)
	}
	defer src.Close()

	conn, err := dial(ctx, cfg, cb)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	cli, err := sftp.NewClient(conn)
	if err != nil {
		return "", fmt.Errorf("sftp: new client: %w", err)
	}
	defer cli.Close()

	remotePath := path.Join(cfg.RemoteDir, remoteFileName)
	if err := put(cli, src, remotePath); err != nil {
		return "", err
	}
	return remotePath, nil
}

// dial opens the SSH connection. ctx bounds the TCP connect and the
// handshake; the returned client outlives it.
func dial(ctx context.Context, cfg config.SFTPConfig, cb ssh.HostKeyCallback) (*ssh.Client, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	d := net.Dialer{Timeout: handshakeTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sftp: dial %s: %w", addr, err)
	}

	stop := context.AfterFunc(ctx, func() { nc.Close() })
	defer stop()
	_ = nc.SetDeadline(time.Now().Add(handshakeTimeout))

	sc, chans, reqs, err := ssh.NewClientConn(nc, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Pass)},
		HostKeyCallback: cb,
		Timeout:         handshakeTimeout,
	})
	if err != nil {
		nc.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sftp: dial canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("sftp: handshake %s: %w", addr, err)
	}
	_ = nc.SetDeadline(time.Time{})
	logger.Debug("sftp: connected to %s as %s", addr, cfg.User)
	return ssh.NewClient(sc, chans, reqs), nil
}

func put(cli *sftp.Client, src io.Reader, remotePath string) error {
	dir := path.Dir(remotePath)
	if err := cli.MkdirAll(dir); err != nil {
		return fmt.Errorf("sftp: mkdir %s: %w", dir, err)
	}

	part := remotePath + ".part"
	dst, err := cli.Create(part)
	if err != nil {
		return fmt.Errorf("sftp: create remote file: %w", err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = cli.Remove(part)
		return fmt.Errorf("sftp: upload copy: %w", err)
	}

	fi, err := cli.Stat(part)
	if err != nil {
		return fmt.Errorf("sftp: stat %s: %w", part, err)
	}
	if fi.Size() != n {
		_ = cli.Remove(part)
		return fmt.Errorf("sftp: %s: wrote %d bytes, server has %d", part, n, fi.Size())
	}

	// posix-rename overwrites; plain SSH_FXP_RENAME fails when the target
	// exists, so servers without the extension get a remove first.
	if err := cli.PosixRename(part, remotePath); err != nil {
		_ = cli.Remove(remotePath)
		if err := cli.Rename(part, remotePath); err != nil {
			return fmt.Errorf("sftp: rename %s: %w", part, err)
		}
	}
	logger.Info("sftp: uploaded %s (%d bytes)", remotePath, n)
	return nil
}

// hostKeyCallback verifies against KnownHosts (default ~/.ssh/known_hosts)
// unless Insecure is set.
func hostKeyCallback(cfg config.SFTPConfig) (ssh.HostKeyCallback, error) {
	if cfg.Insecure {
		logger.Warn("sftp: host key of %s is not verified (CLOUDIA_SFTP_INSECURE)", cfg.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := cfg.KnownHosts
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("sftp: known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("sftp: known_hosts %s: %w", file, err)
	}
	return cb, nil
}
