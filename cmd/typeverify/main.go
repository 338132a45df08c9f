// Command typeverify is a standalone verifier for typeproof commitments.
//
// It needs no configuration, store or running daemon, which makes it
// suitable for third parties checking a commitment they were handed.
//
// Usage:
//
//	typeverify [flags] <commitment.json>
//
// Examples:
//
//	# Basic verification
//	typeverify commitment.json
//
//	# JSON report, only accept commitments signed by a known builder
//	typeverify -format json -pubkey builder.pub commitment.json
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"typeproof/internal/classifier"
	"typeproof/internal/commitment"
	"typeproof/internal/signer"
	"typeproof/internal/verify"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

type keyList []string

func (k *keyList) String() string { return strings.Join(*k, ",") }

func (k *keyList) Set(v string) error {
	*k = append(*k, strings.TrimSpace(v))
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("typeverify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	formatStr := fs.String("format", "text", "output format: text, json, markdown")
	output := fs.String("output", "", "output file (default: stdout)")
	verbose := fs.Bool("verbose", false, "verbose output with details")
	quiet := fs.Bool("quiet", false, "quiet mode - only set the exit code")
	exitCode := fs.Bool("exit-code", true, "exit with non-zero code on verification failure")
	maxSkew := fs.Duration("max-skew", verify.DefaultMaxClockSkew, "accepted clock skew for commitment timestamps")
	requireSig := fs.Bool("require-signature", false, "reject unsigned commitments")
	minVariance := fs.Float64("min-variance", classifier.DefaultMinVariance, "lowest variance a human verdict may carry")
	maxVariance := fs.Float64("max-variance", classifier.DefaultMaxVariance, "highest variance a human verdict may carry")
	pubkey := fs.String("pubkey", "", "OpenSSH or raw Ed25519 public key file of the trusted builder")
	versionFlag := fs.Bool("version", false, "print version and exit")
	var trusted keyList
	fs.Var(&trusted, "trusted-key", "hex Ed25519 public key of a trusted builder (repeatable)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "typeverify - Verify typeproof commitments\n\n")
		fmt.Fprintf(stderr, "Usage: typeverify [flags] <commitment.json|->\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExit codes:\n")
		fmt.Fprintf(stderr, "  0  commitment is internally consistent\n")
		fmt.Fprintf(stderr, "  1  commitment is inconsistent or could not be read\n")
		fmt.Fprintf(stderr, "  2  usage error\n")
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *versionFlag {
		fmt.Fprintf(stdout, "typeverify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return 0
	}

	if fs.NArg() < 1 {
		fmt.Fprintf(stderr, "Error: commitment file required\n\n")
		fs.Usage()
		return 2
	}

	format, err := parseFormat(*formatStr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if *minVariance < 0 || *maxVariance < *minVariance {
		fmt.Fprintf(stderr, "Error: invalid variance range [%v, %v]\n", *minVariance, *maxVariance)
		return 2
	}
	opts := []verify.LocalOption{
		verify.WithMaxClockSkew(*maxSkew),
		verify.WithVarianceRange(*minVariance, *maxVariance),
	}
	if *requireSig {
		opts = append(opts, verify.RequireSignature())
	}
	if *pubkey != "" {
		pub, err := signer.LoadPublicKey(*pubkey)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading public key: %v\n", err)
			return 1
		}
		trusted = append(trusted, hex.EncodeToString(pub))
	}
	if len(trusted) > 0 {
		opts = append(opts, verify.WithTrustedKeys(trusted...))
	}

	data, err := loadCommitment(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error loading commitment: %v\n", err)
		return 1
	}

	var report *verify.VerificationReport
	if c, err := commitment.Unmarshal(data); err != nil {
		report = verify.NewReport(nil, verify.LocalBytes(data, opts...))
	} else {
		report = verify.NewReport(c, verify.Local(c, opts...))
	}

	var w io.Writer = stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(stderr, "Error creating output file: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
	}

	if !*quiet {
		generator := verify.NewReportGenerator(format).WithVerbose(*verbose)
		if err := generator.Generate(report, w); err != nil {
			fmt.Fprintf(stderr, "Error generating report: %v\n", err)
			return 1
		}
	}

	if *exitCode && !report.Valid {
		return 1
	}
	return 0
}

func loadCommitment(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func parseFormat(s string) (verify.ReportFormat, error) {
	switch s {
	case "text":
		return verify.FormatText, nil
	case "json":
		return verify.FormatJSON, nil
	case "markdown", "md":
		return verify.FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown format: %s (use text, json, or markdown)", s)
	}
}
