// Command coordctl is an interactive CLI client for a running coordnode,
// exercising the §6.1 external operation set (create, get_or_create, get,
// set_value, delete, get_session) over coordhttp.Client.
//
// Usage:
//
//	coordctl [-server URL] <command> [args...]
//
// Commands:
//
//	create <path> [value]        create an entry (fails if it exists)
//	get-or-create <path> [value] create an entry, or return it if present
//	get <path>                   print an entry's value, version and children
//	set <path> <value> <version> set_value with an expected version
//	delete <path> <version>      delete with an expected version
//	delete -r <path> <version>   recursive delete
//	session                      print this coordnode's session id
//
// COORDCTL_SERVER is the default server URL when -server is omitted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dreamware/coordkernel/internal/coordhttp"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("coordctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := fs.String("server", getenv("COORDCTL_SERVER", "http://localhost:7070"), "coordnode base URL")
	timeout := fs.Duration("timeout", 5*time.Second, "per-request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "usage: coordctl [-server URL] <command> [args...]")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client := coordhttp.NewClient(*server)

	cmd, cmdArgs := rest[0], rest[1:]
	var err error
	switch cmd {
	case "create":
		err = runCreate(ctx, client, stdout, cmdArgs, false)
	case "get-or-create":
		err = runCreate(ctx, client, stdout, cmdArgs, true)
	case "get":
		err = runGet(ctx, client, stdout, cmdArgs)
	case "set":
		err = runSet(ctx, client, stdout, cmdArgs)
	case "delete":
		err = runDelete(ctx, client, stdout, cmdArgs)
	case "session":
		err = runSession(ctx, client, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "coordctl: %v\n", err)
		return 1
	}
	return 0
}

func runCreate(ctx context.Context, c *coordhttp.Client, stdout *os.File, args []string, getOrCreate bool) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: create <path> [value]")
	}
	var value []byte
	if len(args) >= 2 {
		value = []byte(args[1])
	}
	var (
		view *coordhttp.EntryView
		err  error
	)
	if getOrCreate {
		view, err = c.GetOrCreate(ctx, args[0], value, false)
	} else {
		view, err = c.Create(ctx, args[0], value, false)
	}
	if err != nil {
		return err
	}
	printEntry(stdout, view)
	return nil
}

func runGet(ctx context.Context, c *coordhttp.Client, stdout *os.File, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <path>")
	}
	view, err := c.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if view == nil {
		fmt.Fprintln(stdout, "(not found)")
		return nil
	}
	printEntry(stdout, view)
	return nil
}

func runSet(ctx context.Context, c *coordhttp.Client, stdout *os.File, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: set <path> <value> <expected-version>")
	}
	version, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("expected-version: %w", err)
	}
	newVersion, err := c.SetValue(ctx, args[0], []byte(args[1]), version)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "version: %d\n", newVersion)
	return nil
}

func runDelete(ctx context.Context, c *coordhttp.Client, stdout *os.File, args []string) error {
	recursive := false
	if len(args) > 0 && args[0] == "-r" {
		recursive = true
		args = args[1:]
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: delete [-r] <path> <expected-version>")
	}
	version, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("expected-version: %w", err)
	}
	prevVersion, err := c.Delete(ctx, args[0], version, recursive)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "deleted, prior version: %d\n", prevVersion)
	return nil
}

func runSession(ctx context.Context, c *coordhttp.Client, stdout *os.File) error {
	sid, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, sid)
	return nil
}

func printEntry(stdout *os.File, view *coordhttp.EntryView) {
	if view == nil {
		fmt.Fprintln(stdout, "(not found)")
		return
	}
	fmt.Fprintf(stdout, "path:      %s\n", view.Path)
	fmt.Fprintf(stdout, "value:     %s\n", view.Value)
	fmt.Fprintf(stdout, "version:   %d\n", view.Version)
	fmt.Fprintf(stdout, "ephemeral: %t\n", view.Ephemeral)
	fmt.Fprintf(stdout, "children:  %v\n", view.Children)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
