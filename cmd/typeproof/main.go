// typeproof is the command-line front end: it extracts typing
// fingerprints, builds commitments, verifies them and manages the local
// commitment history.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"typeproof/internal/config"
	"typeproof/internal/logging"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// errVerificationFailed signals a completed run whose verdict is negative.
var errVerificationFailed = errors.New("verification failed")

// usageError is returned for bad invocations; it maps to exit code 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	cfg        *config.Config
	log        *logging.Logger
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("typeproof", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file (default: "+config.ConfigPath()+")")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		usage(stderr)
		return 2
	}

	c := &cli{stdout: stdout, stderr: stderr, configPath: *configPath}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var handler func([]string) error
	switch cmd {
	case "fingerprint":
		handler = c.cmdFingerprint
	case "build":
		handler = c.cmdBuild
	case "verify":
		handler = c.cmdVerify
	case "verify-remote":
		handler = c.cmdVerifyRemote
	case "history":
		handler = c.cmdHistory
	case "show":
		handler = c.cmdShow
	case "keygen":
		handler = c.cmdKeygen
	case "config":
		handler = c.cmdConfig
	case "simulate":
		handler = c.cmdSimulate
	case "version":
		fmt.Fprintf(stdout, "typeproof %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return 0
	case "help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		usage(stderr)
		return 2
	}

	if cmd != "config" {
		if err := c.loadConfig(*verbose); err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 1
		}
	}

	err := handler(rest)
	var uerr usageError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.As(err, &uerr):
		fmt.Fprintf(stderr, "Usage: %s\n", uerr.msg)
		return 2
	case errors.Is(err, errVerificationFailed):
		return 1
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `typeproof - Keystroke-timing proofs of human typing

Usage: typeproof [options] <command> [args]

Commands:
  fingerprint <intervals>               Extract a fingerprint and classify it
  build -content <file> <intervals>     Build a commitment
  verify <commitment.json>              Verify a commitment locally
  verify-remote <commitment.json>       Submit a commitment to the configured ledger
  history                               List stored commitments
  show <id|reference>                   Show a stored commitment and its verifications
  keygen                                Generate the builder signing key
  config init|check|path                Manage the configuration file
  simulate [-profile name]              Generate synthetic keystroke intervals
  version                               Print version information
  help                                  Show this help message

Intervals are read from a file (or - for stdin) as a JSON array of
milliseconds or as whitespace/comma separated numbers.

Options:
  -config <path>  Path to config file
  -v              Verbose logging`)
}

func (c *cli) loadConfig(verbose bool) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	level := logging.LevelWarn
	if verbose {
		level = logging.LevelDebug
	}
	c.log, err = logging.New(&logging.Config{
		Level:     level,
		Format:    logging.FormatText,
		Component: "typeproof",
		Writer:    c.stderr,
	})
	return err
}
