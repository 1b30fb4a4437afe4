package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/MimeLyc/hodarchive/internal/errs"
)

const (
	exitOK       = 0
	exitError    = 1
	exitCanceled = 2
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// execute runs the command line and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, out io.Writer) int {
	if args == nil {
		args = []string{}
	}
	root := newRootCmd(out)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		fmt.Fprintln(out, "\nOperation canceled")
		return exitCanceled
	default:
		errs.Handler{}.Handle(err)
		return exitError
	}
}
