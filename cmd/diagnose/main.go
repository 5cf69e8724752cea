// Command diagnose replays the unsubscribe flow against a live Mautic
// instance, one step at a time, to locate where DNC suppression breaks.
//
//	diagnose <email> [--base-url URL] [--username USER] [--password PASS]
//
// Flags fall back to MAUTIC_BASE_URL, MAUTIC_USERNAME and MAUTIC_PASSWORD.
// Exit status is 2 when any step fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dncproxy/internal/mautic"
	"dncproxy/internal/platform/config"
)

const usageSteps = `
Steps:
  1  Connectivity     Can we reach Mautic? Are credentials valid?
  2  Contact search   Does the exact-match query return results?
  3  Exact match      Verify email match among candidates.
  4  Pre-DNC state    Inspect doNotContact before the add.
  5  DNC add          Add to DNC; print the full response body.
  6  Post-DNC verify  Confirm DNC persisted after add.
  7  Idempotency      Re-add DNC and compare the response.
`

type options struct {
	email    string
	baseURL  string
	username string
	password string
	timeout  time.Duration
}

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	line := strings.Repeat("=", 70)
	fmt.Fprintf(stdout, "%s\n  Mautic DNC Diagnostic\n%s\n", line, line)
	fmt.Fprintf(stdout, "  Email:    %s\n", opts.email)
	fmt.Fprintf(stdout, "  Base URL: %s\n", opts.baseURL)
	fmt.Fprintf(stdout, "  Username: %s\n", orNotSet(opts.username, opts.username))
	fmt.Fprintf(stdout, "  Password: %s\n\n", orNotSet(opts.password, "[SET]"))

	if opts.username == "" || opts.password == "" {
		fmt.Fprintln(stderr, "error: Mautic credentials not set, use --username/--password or MAUTIC_USERNAME/MAUTIC_PASSWORD")
		return 1
	}

	client := mautic.New(mautic.Config{
		BaseURL:  opts.baseURL,
		Username: opts.username,
		Password: opts.password,
		Timeout:  opts.timeout,
	})
	results := Diagnose(ctx, client, opts.email, stdout)
	PrintSummary(stdout, results)
	return ExitCode(results)
}

// parseArgs accepts the email before or after the flags.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("diagnose", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: diagnose <email> [--base-url URL] [--username USER] [--password PASS]")
		fs.PrintDefaults()
		fmt.Fprint(fs.Output(), usageSteps)
	}

	var opts options
	fs.StringVar(&opts.baseURL, "base-url", envOr("MAUTIC_BASE_URL", config.DefaultMauticBaseURL), "Mautic base URL")
	fs.StringVar(&opts.username, "username", os.Getenv("MAUTIC_USERNAME"), "Mautic API username")
	fs.StringVar(&opts.password, "password", os.Getenv("MAUTIC_PASSWORD"), "Mautic API password")
	fs.DurationVar(&opts.timeout, "timeout", config.DefaultMauticTimeout, "per-request timeout")

	var positional []string
	for len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return options{}, err
		}
		args = fs.Args()
		if len(args) > 0 {
			positional = append(positional, args[0])
			args = args[1:]
		}
	}
	if len(positional) != 1 {
		fs.Usage()
		return options{}, fmt.Errorf("expected exactly one email argument, got %d", len(positional))
	}

	opts.email = strings.ToLower(strings.TrimSpace(positional[0]))
	opts.baseURL = strings.TrimRight(opts.baseURL, "/")
	return opts, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orNotSet(v, shown string) string {
	if v == "" {
		return "[NOT SET]"
	}
	return shown
}
