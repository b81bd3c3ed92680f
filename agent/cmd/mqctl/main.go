// Command mqctl is a command-line client for the broker.
//
//	mqctl [-addr URL] add [-id ID] [-priority N] [-timestamp T]
//	mqctl [-addr URL] pop
//	mqctl [-addr URL] find ID
//	mqctl [-addr URL] list
//	mqctl [-addr URL] stats
//	mqctl [-addr URL] metrics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/prioritymq/agent/internal/client"
)

const usage = `usage: mqctl [-addr URL] [-timeout D] <command> [args]

commands:
  add [-id ID] [-priority N] [-timestamp T]   admit a message
  pop                                         remove the highest-priority message
  find ID                                     show a live message
  list                                        live ids in pop order
  stats                                       broker counters
  metrics                                     broker metric totals
`

// errUsage marks a subcommand flag error. The flag package has already
// printed the problem and the subcommand's defaults.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mqctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	addr := fs.String("addr", envOr("PRIORITYMQ_ADDR", "http://localhost:8000"), "broker base URL")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	c, err := client.New(*addr, *timeout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx := context.Background()
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "add":
		err = cmdAdd(ctx, c, rest, stdout, stderr)
	case "pop":
		err = cmdPop(ctx, c, stdout)
	case "find":
		err = cmdFind(ctx, c, rest, stdout)
	case "list":
		err = cmdList(ctx, c, stdout)
	case "stats":
		err = cmdStats(ctx, c, stdout)
	case "metrics":
		err = cmdMetrics(ctx, c, stdout)
	default:
		fmt.Fprintf(stderr, "mqctl: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	if errors.Is(err, errUsage) {
		return 2
	}
	if err != nil {
		var ae *client.APIError
		if errors.As(err, &ae) {
			fmt.Fprintf(stderr, "mqctl: %s\n", ae.Message)
		} else {
			fmt.Fprintf(stderr, "mqctl: %v\n", err)
		}
		return 1
	}
	return 0
}

func cmdAdd(ctx context.Context, c *client.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "message id (default: random UUID)")
	priority := fs.Int("priority", 50, "priority, 1 (lowest) to 100 (highest)")
	timestamp := fs.Int64("timestamp", 0, "timestamp (default: now in unix nanoseconds)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *id == "" {
		*id = uuid.NewString()
	}
	if !flagSet(fs, "timestamp") {
		*timestamp = time.Now().UnixNano()
	}

	msg, err := c.Add(ctx, *id, *priority, *timestamp)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, msg)
	return nil
}

// flagSet reports whether name was given on the command line, so an
// explicit zero can be told from the default.
func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func cmdPop(ctx context.Context, c *client.Client, stdout io.Writer) error {
	id, ok, err := c.Pop(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(stdout, "(empty)")
		return nil
	}
	fmt.Fprintln(stdout, id)
	return nil
}

func cmdFind(ctx context.Context, c *client.Client, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("find: exactly one message id is required")
	}
	e, ok, err := c.Find(ctx, args[0])
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(stdout, "(not found)")
		return nil
	}
	fmt.Fprintf(stdout, "priority=%d timestamp=%d\n", e.Priority, e.Timestamp)
	return nil
}

func cmdList(ctx context.Context, c *client.Client, stdout io.Writer) error {
	ids, err := c.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(stdout, id)
	}
	return nil
}

func cmdStats(ctx context.Context, c *client.Client, stdout io.Writer) error {
	s, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func cmdMetrics(ctx context.Context, c *client.Client, stdout io.Writer) error {
	mfs, err := c.Metrics(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(mfs))
	for name := range mfs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "%s %g\n", name, client.Sum(mfs[name]))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
