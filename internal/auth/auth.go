// Package auth resolves the platform user a script runs as.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"cloudia/internal/cfo"
	"cloudia/internal/config"
	"cloudia/internal/logger"
	"cloudia/internal/record"
)

var ErrMissingToken = errors.New("missing X-DS-TOKEN: run 'cloudia auth login' or set CLOUDIA_DS_TOKEN")

type User struct {
	ID         string
	Token      string
	Privileges []string
	SuperAdmin bool
}

// HasAnyPrivilege takes a comma separated list, e.g. "development-admin,development-user".
func (u *User) HasAnyPrivilege(list string) bool {
	if u == nil {
		return false
	}
	if u.SuperAdmin {
		return true
	}
	for _, want := range strings.Split(list, ",") {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		for _, have := range u.Privileges {
			if have == want {
				return true
			}
		}
	}
	return false
}

// ResolveToken prefers CLOUDIA_DS_TOKEN (already in cfg.Token) over the token file.
func ResolveToken(cfg config.Config) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}

// Authenticate resolves the token and, unless the check is disabled, asks the
// platform who owns it. webKey is the X-WEB-KEY of the calling script.
func Authenticate(ctx context.Context, cfg config.Config, webKey string) (*User, error) {
	tok, err := ResolveToken(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.SkipSigninCheck {
		logger.Warn("signin check skipped, acting as %q with configured privileges", cfg.User)
		return &User{ID: cfg.User, Token: tok, Privileges: cfg.Privileges}, nil
	}

	c := cfo.New(cfg.APIBaseURL, webKey, tok)
	if cfg.HTTPTimeout > 0 {
		c.HTTP.Timeout = cfg.HTTPTimeout
	}
	if cfg.IntegrationKey != "" {
		c.Extra = http.Header{}
		c.Extra.Set("X-EXTRA-INFO", cfg.IntegrationKey)
	}
	data, err := c.Call(ctx, http.MethodGet, "/core/signin/"+cfo.EscapeID(cfg.PlatformID)+"/check", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: signin check for platform %s: %w", cfg.PlatformID, err)
	}
	u := userFrom(record.From(data))
	if u.ID == "" {
		return nil, fmt.Errorf("auth: signin check for platform %s: token is not valid", cfg.PlatformID)
	}
	u.Token = tok
	return u, nil
}

func userFrom(data record.Record) *User {
	u := record.From(data["User"])
	if u == nil {
		return &User{}
	}
	return &User{
		ID:         u.Str("KeyName"),
		Privileges: u.Strings("UserPrivileges"),
		SuperAdmin: u.Bool("UserSuperAdmin"),
	}
}

// LoadToken reads a token saved by SaveToken. A missing file is not an error.
func LoadToken(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("auth: read token file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// SaveToken stores token with owner-only permissions.
func SaveToken(path, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("auth: empty token")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("auth: create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("auth: write token file: %w", err)
	}
	return os.Chmod(path, 0o600)
}
