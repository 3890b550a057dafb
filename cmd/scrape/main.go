// Command scrape runs declarative extraction tasks against web pages and
// feeds and writes the records as JSON and CSV.
//
// Usage (all built-in task groups):
//
//	scrape run
//
// Usage (selected tasks or groups):
//
//	scrape run quotes headlines
//	scrape run dnd --out-dir ./data
//
// Usage (tasks from a file, with a URL override):
//
//	scrape run --file tasks.yaml --url https://example.com/list
//
// Debug (print matches for a selector):
//
//	curl -s https://httpbin.org/html | scrape inspect --selector h1 --text
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "scrape/internal/storage/mssql"
	_ "scrape/internal/storage/postgres"
	_ "scrape/internal/storage/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], deps{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		sleep:  time.Sleep,
	}))
}

// deps are the process collaborators of one invocation.
type deps struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	sleep  func(time.Duration)
}

// usageError marks errors that exit with code 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// run is split out from main so we can unit test the command without spawning
// an OS process.
//
// It returns a Unix-style exit code:
//   - 0 for success, including runs where tasks failed or found nothing
//   - 2 for usage/config errors
//   - 1 for hard failures (writing results, storage)
func run(ctx context.Context, args []string, d deps) int {
	if d.sleep == nil {
		d.sleep = time.Sleep
	}
	root := newRootCmd(&d)
	root.SetArgs(args)
	root.SetIn(d.stdin)
	root.SetOut(d.stdout)
	root.SetErr(d.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(d.stderr, "scrape: %v\n", err)

	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}
