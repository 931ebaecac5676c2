// Package log is a thin wrapper around golang.org/x/exp/slog, shaped the
// way go-ethereum's own log package presents one: package-level leveled
// functions taking alternating key/value context, and a go-colorable
// writer when the output is a terminal.
package log

import (
	"context"
	"io"
	"os"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/exp/slog"
)

var root = slog.New(newTerminalHandler(os.Stderr))

// SetDefault replaces the root logger, letting callers (tests, the CLI)
// redirect or silence output.
func SetDefault(l *slog.Logger) { root = l }

// Root returns the package-level logger.
func Root() *slog.Logger { return root }

func Trace(msg string, ctx ...any) { root.Log(context.Background(), levelTrace, msg, ctx...) }
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { root.Warn(msg, ctx...) }

// Error logs at error level and attaches the caller's stack frame, the
// same courtesy go-ethereum's log package extends to error sites.
func Error(msg string, ctx ...any) {
	ctx = append(ctx, "caller", stack.Caller(1))
	root.Error(msg, ctx...)
}

const levelTrace = slog.Level(-8)

// newTerminalHandler wraps w in a go-colorable writer when it is an
// attached terminal. Both cases use slog's plain text handler; no color
// codes are added to the records.
func newTerminalHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return slog.NewTextHandler(colorable.NewColorable(f), opts)
	}
	return slog.NewTextHandler(w, opts)
}
