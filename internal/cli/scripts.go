package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cloudia/internal/domains"
	"cloudia/internal/script"
)

// paramNames are the query parameters the scripts read. Each one is also a
// flag of the per-script commands.
var paramNames = []string{
	"id", "entity", "app", "cat", "confirm", "json",
	"email", "open", "status", "project", "priority", "assigned",
	"from", "to", "task",
}

func newRunCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run ROUTE",
		Short: `Run a route such as "_cloudia/tasks/get?id=123"`,
		Example: "  cloudia run _cloudia/apis/list-remote\n" +
			`  cloudia run "_cloudia/tasks/search?status=in-progress&priority=high"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRoute(cmd.Context(), args[0])
		},
	}
}

func (a *App) runRoute(ctx context.Context, raw string) error {
	route, err := script.ParseRoute(raw)
	if err != nil {
		return err
	}
	return a.runScript(ctx, route.Script, route.Method, route.Params)
}

func (a *App) runScript(ctx context.Context, name, method string, params script.Params) error {
	s, ok := domains.Scripts()[name]
	if !ok {
		return fmt.Errorf("script _cloudia/%s not found", name)
	}
	cfg, err := a.config()
	if err != nil {
		return err
	}
	return a.runner(cfg).Run(ctx, s, method, params)
}

// newScriptCommand exposes one script as "cloudia <name> [method] --id x".
func newScriptCommand(a *App, name string) *cobra.Command {
	values := map[string]*string{}
	cmd := &cobra.Command{
		Use:   name + " [method]",
		Short: "Run _cloudia/" + name,
		Long:  "Run _cloudia/" + name + ". Without a method the script prints its commands.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: domains.Scripts()[name].MethodNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := ""
			if len(args) == 1 {
				method = args[0]
			}
			return a.runScript(cmd.Context(), name, method, collectParams(cmd.Flags(), values))
		},
	}
	for _, p := range paramNames {
		values[p] = cmd.Flags().String(p, "", "route parameter "+p)
	}
	return cmd
}

// collectParams keeps only the flags given on the command line.
func collectParams(fs *pflag.FlagSet, values map[string]*string) script.Params {
	params := script.Params{}
	for name, v := range values {
		if fs.Changed(name) {
			params[name] = *v
		}
	}
	return params
}
