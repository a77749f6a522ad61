package domains

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"cloudia/internal/auth"
	"cloudia/internal/script"
)

// Auth shows the credentials the scripts run with and stores a new token.
func Auth() *script.Script {
	return &script.Script{
		Name:           "auth",
		PlatformErr:    script.ErrNoCorePlatform,
		NotImplemented: "   #/%s is not implemented",
		Banner: func(env *script.Env) {
			env.Out.Linef("Platform ID: %s", env.Platform)
		},
		BeforeMethod: func(env *script.Env) {
			env.Out.Linef("GOOGLE-EMAIL-ACCOUNT: %s", env.Config.GoogleEmail)
		},
		Help: []string{
			"  /x-ds-token        - Return your token to connect with your EaaS",
			"  /access-token      - Return your Google Access Token",
			"  /login             - Store a new X-DS-TOKEN for the next runs",
		},
		Methods: map[string]script.Method{
			"x-ds-token":   authToken,
			"access-token": authAccessToken,
			"login":        authLogin,
		},
		Unauthenticated: map[string]bool{"login": true},
	}
}

func authToken(ctx context.Context, env *script.Env) error {
	env.Out.Linef("X-DS-TOKEN: %s:", env.User.Token)
	return nil
}

func authAccessToken(ctx context.Context, env *script.Env) error {
	tok := env.Config.GoogleAccessToken
	if tok == "" {
		return errors.New("GOOGLE_ACCESS_TOKEN is not defined")
	}
	env.Out.Linef("GOOGLE-ACCESS-TOKEN: %s", tok)
	return nil
}

func authLogin(ctx context.Context, env *script.Env) error {
	path := env.Config.TokenFile
	if path == "" {
		return errors.New("auth: no token file configured, set CLOUDIA_TOKEN_FILE")
	}
	tok, err := readToken(env)
	if err != nil {
		return err
	}
	if err := auth.SaveToken(path, tok); err != nil {
		return err
	}
	env.Out.Linef(" + Token saved: %s", path)
	return nil
}

// readToken prompts without echo on a terminal and reads one line otherwise.
func readToken(env *script.Env) (string, error) {
	if f, ok := env.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, "Enter X-DS-TOKEN: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("auth: read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	if env.Stdin == nil {
		return "", auth.ErrMissingToken
	}
	line, err := bufio.NewReader(env.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", auth.ErrMissingToken
	}
	return strings.TrimSpace(line), nil
}
