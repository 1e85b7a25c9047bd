// Command skurename renames product photos from the command line.
//
//	skurename folder --csv skus.csv --src ./photos --dest ./renamed
//	skurename zip --csv skus.csv --in photos.zip --out renamed.zip
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/skurename/internal/core"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ue *exitError
	switch {
	case errors.As(err, &ue):
		fmt.Fprintln(stderr, ue.msg)
	case core.MapError(err).Code == "ERR000":
		// Usage and flag errors.
		fmt.Fprintln(stderr, "Error:", err)
	default:
		fmt.Fprintln(stderr, "Error:", core.FormatUserError(err))
	}
	return 1
}

// exitError carries a message that is already fit for the user.
type exitError struct{ msg string }

func (e *exitError) Error() string { return e.msg }

func userError(format string, args ...any) error {
	return &exitError{msg: fmt.Sprintf(format, args...)}
}
