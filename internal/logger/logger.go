package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// out is where diagnostics go. Terminal output of the scripts goes to stdout
// through internal/terminal, so logs stay out of captured listings.
var out io.Writer = os.Stderr

var (
	infoColor  = color.New(color.FgGreen)
	warnColor  = color.New(color.FgHiMagenta)
	errorColor = color.New(color.FgRed)
	debugColor = color.New(color.FgCyan)
)

// Info logs informational messages in green.
var Info = printer(infoColor, "[INFO] ")

// Warn logs warnings in bright magenta.
var Warn = printer(warnColor, "[WARN] ")

// Error logs errors in red.
var Error = printer(errorColor, "[ERROR] ")

// Debug logs in cyan when enabled by Init, otherwise it is a no-op.
var Debug = func(format string, a ...any) {}

// Init enables or disables debug logging and turns color off when stderr is
// not a terminal or NO_COLOR is set.
func Init(enableDebug bool) {
	if os.Getenv("NO_COLOR") != "" || !isTerminal(out) {
		color.NoColor = true
	}
	if enableDebug {
		Debug = printer(debugColor, "[DEBUG] ")
	} else {
		Debug = func(format string, a ...any) {}
	}
}

// SetOutput redirects all levels to w. Tests use it to capture logs.
func SetOutput(w io.Writer) {
	out = w
}

func printer(c *color.Color, prefix string) func(format string, a ...any) {
	return func(format string, a ...any) {
		msg := fmt.Sprintf(format, a...)
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		c.Fprint(out, prefix+msg)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
