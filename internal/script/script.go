// Package script runs one _cloudia/<script>/<method> invocation: platform
// check, authentication, privilege check and method dispatch.
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"cloudia/internal/auth"
	"cloudia/internal/backup"
	"cloudia/internal/cfo"
	"cloudia/internal/config"
	"cloudia/internal/httpx"
	"cloudia/internal/logger"
	"cloudia/internal/terminal"
)

const (
	ErrNoPlatform     = "core.erp.platform_id is not defined"
	ErrNoCorePlatform = "core.platform_id is not defined"
)

// Method is one METHOD of a script.
type Method func(ctx context.Context, env *Env) error

type Script struct {
	Name string

	// WebKey defaults to /scripts/_cloudia/<Name>.
	WebKey string

	// UseCFOsURL sends requests to the .dev base URL.
	UseCFOsURL bool

	// Privileges is checked with HasAnyPrivilege. Denied is the label shown
	// in the permission error. Empty Privileges means no check.
	Privileges string
	Denied     string

	// PlatformErr defaults to ErrNoPlatform.
	PlatformErr string

	// NotImplemented is a format with one %s for the method. Defaults to "/%s is not implemented".
	NotImplemented string

	Methods map[string]Method

	// Help is printed by the default method.
	Help []string

	// Banner replaces the "Executing ..." line. It runs before authentication.
	Banner func(env *Env)

	// BeforeMethod runs after the " - method: x" line.
	BeforeMethod func(env *Env)

	// Unauthenticated methods run without resolving a token first.
	Unauthenticated map[string]bool
}

func (s *Script) webKey() string {
	if s.WebKey != "" {
		return s.WebKey
	}
	return "/scripts/_cloudia/" + s.Name
}

// MethodNames lists the registered methods, sorted.
func (s *Script) MethodNames() []string {
	out := make([]string, 0, len(s.Methods))
	for k := range s.Methods {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Env is what a method works with.
type Env struct {
	Out      *terminal.Printer
	API      *cfo.Client
	Store    *backup.Store
	User     *auth.User
	Platform string
	Params   Params
	Config   config.Config
	Workers  int
	Stdin    io.Reader
	Now      func() time.Time
	Script   *Script
}

// With returns a copy of env whose params have k set to v. Used when a
// method re-runs another one (insert followed by backup).
func (e *Env) With(k, v string) *Env {
	c := *e
	c.Params = e.Params.Clone()
	c.Params[k] = v
	return &c
}

// Call runs method of the current script. Methods use it to chain into
// another one (insert followed by backup).
func (e *Env) Call(ctx context.Context, method string) error {
	m, ok := e.Script.Methods[method]
	if !ok {
		return fmt.Errorf("script: %s has no method %s", e.Script.Name, method)
	}
	return m(ctx, e)
}

// Runner holds what is shared by every invocation.
type Runner struct {
	Config config.Config
	Out    io.Writer
	Stdin  io.Reader
	Now    func() time.Time

	// Authenticate defaults to auth.Authenticate.
	Authenticate func(ctx context.Context, cfg config.Config, webKey string) (*auth.User, error)
}

func NewRunner(cfg config.Config) *Runner {
	return &Runner{
		Config:       cfg,
		Out:          os.Stdout,
		Stdin:        os.Stdin,
		Now:          time.Now,
		Authenticate: auth.Authenticate,
	}
}

// NormalizeMethod maps route names to method keys: dashes and underscores
// are interchangeable, empty means default.
func NormalizeMethod(m string) string {
	m = strings.TrimSpace(strings.ReplaceAll(m, "_", "-"))
	if m == "" {
		return "default"
	}
	return m
}

// Run executes s/method with params.
func (r *Runner) Run(ctx context.Context, s *Script, method string, params Params) error {
	method = NormalizeMethod(method)
	if params == nil {
		params = Params{}
	}
	out := terminal.New(r.Out)

	cfg := r.Config
	if cfg.PlatformID == "" {
		if s.PlatformErr != "" {
			return errors.New(s.PlatformErr)
		}
		return errors.New(ErrNoPlatform)
	}

	env := &Env{
		Out:      out,
		Store:    backup.New(cfg.RootPath, cfg.PlatformID),
		Platform: cfg.PlatformID,
		Params:   params,
		Config:   cfg,
		Workers:  cfg.Workers,
		Stdin:    r.Stdin,
		Now:      r.Now,
		Script:   s,
	}
	if env.Now == nil {
		env.Now = time.Now
	}

	if s.Banner != nil {
		s.Banner(env)
	}
	if s.Unauthenticated[method] {
		out.Linef(" - method: %s", method)
		return env.Call(ctx, method)
	}

	authenticate := r.Authenticate
	if authenticate == nil {
		authenticate = auth.Authenticate
	}
	user, err := authenticate(ctx, cfg, s.webKey())
	if err != nil {
		return err
	}
	env.User = user
	env.API = r.client(s, user.Token)

	if s.Banner == nil {
		out.Linef("Executing _cloudia/%s from platform [%s] user [%s]", s.Name, cfg.PlatformID, user.ID)
	}
	if s.Privileges != "" && !user.HasAnyPrivilege(s.Privileges) {
		return fmt.Errorf("You do not have permission [%s] to execute this script", s.Denied)
	}

	out.Linef(" - method: %s", method)
	if s.BeforeMethod != nil {
		s.BeforeMethod(env)
	}
	logger.Debug("dispatch %s/%s params=%v", s.Name, method, params)

	if _, ok := s.Methods[method]; !ok {
		if method == "default" {
			out.Help("Available commands:", s.Help)
			return nil
		}
		format := s.NotImplemented
		if format == "" {
			format = "/%s is not implemented"
		}
		return fmt.Errorf(format, method)
	}
	return env.Call(ctx, method)
}

func (r *Runner) client(s *Script, token string) *cfo.Client {
	base := r.Config.APIBaseURL
	if s.UseCFOsURL {
		base = r.Config.CFOsBaseURL
	}
	c := cfo.New(base, s.webKey(), token)
	if r.Config.HTTPTimeout > 0 {
		c.HTTP.Timeout = r.Config.HTTPTimeout
	}
	c.ReadRetry = httpx.ReadRetryConfig(r.Config.HTTPMaxAttempts)
	return c
}
