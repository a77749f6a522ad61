// Package cli wires the _cloudia scripts and the archive commands into the
// cloudia command line.
package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cloudia/internal/auth"
	"cloudia/internal/config"
	"cloudia/internal/domains"
	"cloudia/internal/logger"
	"cloudia/internal/script"
)

// App holds the global flags and the streams commands write to.
type App struct {
	ConfigPath string
	Debug      bool
	Root       string
	Platform   string

	Out   io.Writer
	Err   io.Writer
	Stdin io.Reader

	// Authenticate replaces auth.Authenticate when set. Tests use it.
	Authenticate func(ctx context.Context, cfg config.Config, webKey string) (*auth.User, error)
}

func newApp() *App {
	return &App{Out: os.Stdout, Err: os.Stderr, Stdin: os.Stdin}
}

// config loads the config file and applies --root and --platform.
func (a *App) config() (config.Config, error) {
	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if a.Root != "" {
		cfg.RootPath = a.Root
	}
	if a.Platform != "" {
		cfg.PlatformID = a.Platform
	}
	return cfg, nil
}

func (a *App) runner(cfg config.Config) *script.Runner {
	r := script.NewRunner(cfg)
	r.Out = a.Out
	r.Stdin = a.Stdin
	if a.Authenticate != nil {
		r.Authenticate = a.Authenticate
	}
	return r
}

// NewRootCommand builds the command tree around a.
func NewRootCommand(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "cloudia",
		Short: "CloudFramework _cloudia admin scripts",
		Long: "Backs up CloudFramework documentation objects to local JSON files and\n" +
			"pushes local changes back to the platform.",
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetOutput(a.Err)
			logger.Init(a.Debug)
		},
		// cloudia "_cloudia/tasks/list" is run without the word run.
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && isRoute(args[0]) {
				return a.runRoute(cmd.Context(), args[0])
			}
			if len(args) > 0 {
				return &unknownCommandError{args[0]}
			}
			return cmd.Help()
		},
	}
	root.SetOut(a.Out)
	root.SetErr(a.Err)
	root.SetIn(a.Stdin)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.ConfigPath, "config", "c", "", "Path to cloudia.yaml or cloudia.toml")
	pf.BoolVar(&a.Debug, "debug", false, "Enable debug logging")
	pf.StringVar(&a.Root, "root", "", "Backup root directory (overrides CLOUDIA_ROOT_PATH)")
	pf.StringVar(&a.Platform, "platform", "", "Platform id (overrides CLOUDIA_PLATFORM_ID)")

	root.AddCommand(newRunCommand(a))
	for _, name := range domains.Names() {
		root.AddCommand(newScriptCommand(a, name))
	}
	root.AddCommand(newArchiveCommand(a))
	return root
}

type unknownCommandError struct{ name string }

func (e *unknownCommandError) Error() string {
	return "unknown command " + e.name + " (see cloudia --help)"
}

func isRoute(s string) bool {
	return strings.Contains(s, "_cloudia/")
}

// Execute runs the command line and exits with 1 on error.
func Execute() {
	os.Exit(run(context.Background(), newApp(), os.Args[1:]))
}

// run executes args and returns the exit code. Errors go to a.Err through
// logger.Error.
func run(ctx context.Context, a *App, args []string) int {
	logger.SetOutput(a.Err)
	root := NewRootCommand(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("%s", err)
		return 1
	}
	return 0
}
