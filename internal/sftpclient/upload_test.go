package sftpclient

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/sftp"

	"cloudia/internal/config"
	"cloudia/internal/logger"
)

func TestUploadFileValidation(t *testing.T) {
	ctx := context.Background()

	const (
		testHost = "127.0.0.1"
		testUser = "test-user"
		testPass = "test-pass"
		testFile = "test.txt"
	)

	dir := t.TempDir()
	local := filepath.Join(dir, testFile)
	if err := os.WriteFile(local, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name          string
		cfg           config.SFTPConfig
		localPath     string
		errorContains string
	}{
		{
			name:          "Missing credentials",
			cfg:           config.SFTPConfig{},
			localPath:     local,
			errorContains: "sftp: missing env CLOUDIA_SFTP_HOST / CLOUDIA_SFTP_USER / CLOUDIA_SFTP_PASS",
		},
		{
			name:          "Missing known_hosts file",
			cfg:           config.SFTPConfig{Host: testHost, User: testUser, Pass: testPass, KnownHosts: filepath.Join(dir, "nope")},
			localPath:     local,
			errorContains: "sftp: known_hosts",
		},
		{
			name:          "Non-existent local file",
			cfg:           config.SFTPConfig{Host: testHost, User: testUser, Pass: testPass, Insecure: true},
			localPath:     filepath.Join(dir, "missing.txt"),
			errorContains: "sftp: open local file",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := UploadFile(ctx, tc.cfg, tc.localPath, testFile)
			if err == nil {
				t.Fatalf("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.errorContains) {
				t.Errorf("Expected error to contain %q, got %q", tc.errorContains, err.Error())
			}
		})
	}
}

func TestHostKeyCallback(t *testing.T) {
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	defer logger.SetOutput(os.Stderr)

	if _, err := hostKeyCallback(config.SFTPConfig{Host: "drop.acme.com", Insecure: true}); err != nil {
		t.Errorf("Expected no error for insecure config, got %v", err)
	}
	if !strings.Contains(logs.String(), "[WARN] sftp: host key of drop.acme.com is not verified") {
		t.Errorf("Expected a warning for the insecure config, got %q", logs.String())
	}

	known := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(known, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	cb, err := hostKeyCallback(config.SFTPConfig{KnownHosts: known})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cb == nil {
		t.Errorf("Expected a callback, got nil")
	}
}

func TestUploadFileCanceled(t *testing.T) {
	local := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := UploadFile(ctx, config.SFTPConfig{Host: "192.0.2.1", User: "u", Pass: "p", Insecure: true}, local, "a.txt")
	if err == nil {
		t.Fatalf("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "sftp:") {
		t.Errorf("Expected sftp error, got %q", err.Error())
	}
}

func memClient(t *testing.T) *sftp.Client {
	t.Helper()
	sc, cc := net.Pipe()
	srv := sftp.NewRequestServer(sc, sftp.InMemHandler())
	go srv.Serve()
	cli, err := sftp.NewClientPipe(cc, cc)
	if err != nil {
		t.Fatalf("Expected client, got %v", err)
	}
	t.Cleanup(func() {
		cli.Close()
		srv.Close()
	})
	return cli
}

func TestPut(t *testing.T) {
	cli := memClient(t)
	payload := strings.Repeat("backup ", 5000)

	if err := put(cli, strings.NewReader(payload), "/drop/acme/apis.tar.zst"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	f, err := cli.Open("/drop/acme/apis.tar.zst")
	if err != nil {
		t.Fatalf("Expected uploaded file, got %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Errorf("Expected %d bytes, got %d", len(payload), len(got))
	}
	if _, err := cli.Stat("/drop/acme/apis.tar.zst.part"); err == nil {
		t.Errorf("Expected the .part file to be gone")
	}
}
