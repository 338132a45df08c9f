package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"typeproof/internal/bootstrap"
	"typeproof/internal/commitment"
	"typeproof/internal/config"
	"typeproof/internal/fingerprint"
	"typeproof/internal/signer"
	"typeproof/internal/store"
	"typeproof/internal/verify"
)

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("typeproof "+name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) cmdFingerprint(args []string) error {
	fs := c.flagSet("fingerprint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError{"typeproof fingerprint <intervals-file|->"}
	}

	intervals, err := readIntervals(fs.Arg(0))
	if err != nil {
		return err
	}
	fp, err := fingerprint.Extract(intervals)
	if err != nil {
		return err
	}
	verdict := bootstrap.NewClassifier(c.cfg).Classify(fp)

	return writeIndented(c.stdout, struct {
		Fingerprint *fingerprint.Fingerprint `json:"fingerprint"`
		Verdict     any                      `json:"verdict"`
	}{fp, verdict})
}

func (c *cli) cmdBuild(args []string) error {
	fs := c.flagSet("build")
	contentPath := fs.String("content", "", "file holding the typed content (- for stdin)")
	out := fs.String("out", "", "write the commitment here instead of stdout")
	noStore := fs.Bool("no-store", false, "do not record the commitment in the local store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *contentPath == "" || fs.NArg() != 1 {
		return usageError{"typeproof build -content <file> [-out file] [-no-store] <intervals-file|->"}
	}
	if *contentPath == "-" && fs.Arg(0) == "-" {
		return usageError{"content and intervals cannot both come from stdin"}
	}

	content, err := readInput(*contentPath)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}
	intervals, err := readIntervals(fs.Arg(0))
	if err != nil {
		return err
	}
	fp, err := fingerprint.Extract(intervals)
	if err != nil {
		return err
	}

	keySigner, err := bootstrap.LoadSigner(c.cfg.Signing)
	if err != nil {
		return err
	}
	res, err := bootstrap.NewBuilder(c.cfg, keySigner).BuildWithVerdict(string(content), fp)
	if err != nil {
		return err
	}

	data, err := commitment.MarshalIndent(res.Commitment)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if *out != "" {
		if err := os.WriteFile(*out, data, 0644); err != nil {
			return fmt.Errorf("write commitment: %w", err)
		}
	} else if _, err := c.stdout.Write(data); err != nil {
		return err
	}

	refID := verify.ReferenceID(res.Commitment)
	if c.cfg.Storage.Enabled && !*noStore {
		st, err := c.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		id, err := st.Save(context.Background(), res.Commitment, &res.Verdict)
		if err != nil {
			return err
		}
		c.log.Debug("commitment stored", "id", id, "reference_id", refID)
	}

	fmt.Fprintf(c.stderr, "Reference ID:   %s\n", refID)
	fmt.Fprintf(c.stderr, "Human verified: %t\n", res.Verdict.Human)
	for _, f := range res.Verdict.Failed() {
		fmt.Fprintf(c.stderr, "  failed %s: %s\n", f.Name, f.Reason)
	}
	return nil
}

func (c *cli) cmdVerify(args []string) error {
	fs := c.flagSet("verify")
	format := fs.String("format", "text", "output format: text, json, markdown")
	verbose := fs.Bool("verbose", false, "include passing check details")
	remote := fs.Bool("remote", false, "also submit to the configured ledger")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError{"typeproof verify [-format text|json|markdown] [-verbose] [-remote] <commitment.json|->"}
	}
	reportFormat, err := parseFormat(*format)
	if err != nil {
		return usageError{err.Error()}
	}

	data, err := readInput(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read commitment: %w", err)
	}

	var report *verify.VerificationReport
	cm, decodeErr := commitment.Unmarshal(data)
	if decodeErr != nil {
		report = verify.NewReport(nil, verify.LocalBytes(data))
	} else {
		report = verify.NewReport(cm, verify.Local(cm, bootstrap.VerifyOptions(c.cfg)...))
		c.recordRun(report.ReferenceID, store.KindLocal, report.Valid, strings.Join(report.FailedChecks(), ","))
	}

	if *remote && decodeErr == nil {
		rr, err := c.submit(cm)
		if err != nil {
			return err
		}
		report.WithRemote(rr)
	}

	if err := verify.NewReportGenerator(reportFormat).WithVerbose(*verbose).Generate(report, c.stdout); err != nil {
		return fmt.Errorf("generate report: %w", err)
	}
	if !report.Valid {
		return errVerificationFailed
	}
	return nil
}

func (c *cli) cmdVerifyRemote(args []string) error {
	fs := c.flagSet("verify-remote")
	asJSON := fs.Bool("json", false, "print the ledger result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError{"typeproof verify-remote [-json] <commitment.json|->"}
	}

	data, err := readInput(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read commitment: %w", err)
	}
	cm, err := commitment.Unmarshal(data)
	if err != nil {
		return err
	}
	rr, err := c.submit(cm)
	if err != nil {
		return err
	}

	if *asJSON {
		return writeIndented(c.stdout, rr)
	}
	fmt.Fprintf(c.stdout, "Ledger:       %s\n", rr.Ledger)
	fmt.Fprintf(c.stdout, "Reference ID: %s\n", rr.ReferenceID)
	fmt.Fprintf(c.stdout, "Verified:     %t\n", rr.Verified)
	fmt.Fprintf(c.stdout, "Status:       %s\n", rr.Receipt.Status)
	return nil
}

func (c *cli) submit(cm *commitment.Commitment) (verify.RemoteResult, error) {
	timeout := time.Duration(c.cfg.Ledger.Ethereum.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ledgers, err := bootstrap.OpenLedgers(ctx, c.cfg.Ledger)
	if err != nil {
		return verify.RemoteResult{}, err
	}
	defer ledgers.Close()

	rr, err := verify.Remote(ctx, cm, ledgers.Active)
	if err != nil {
		return verify.RemoteResult{}, err
	}
	c.recordRun(rr.ReferenceID, store.KindRemote, rr.Verified, rr.Ledger+":"+string(rr.Receipt.Status))
	return rr, nil
}

// recordRun notes a verification against a stored commitment. Failures
// are logged, not returned.
func (c *cli) recordRun(refID string, kind store.VerificationKind, ok bool, detail string) {
	if !c.cfg.Storage.Enabled || refID == "" {
		return
	}
	if _, err := os.Stat(c.cfg.Storage.Path); err != nil {
		return
	}
	st, err := c.openStore()
	if err != nil {
		c.log.Warn("open store", "error", err)
		return
	}
	defer st.Close()

	ctx := context.Background()
	rec, err := st.GetByReference(ctx, refID)
	if err != nil || rec == nil {
		return
	}
	if _, err := st.RecordVerification(ctx, rec.ID, kind, ok, detail); err != nil {
		c.log.Warn("record verification", "reference_id", refID, "error", err)
	}
}

func (c *cli) cmdHistory(args []string) error {
	fs := c.flagSet("history")
	limit := fs.Int("n", 20, "number of commitments to show")
	content := fs.String("content-hash", "", "only show commitments for this content hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !c.cfg.Storage.Enabled {
		return errors.New("storage is disabled in the configuration")
	}
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var records []store.Record
	if *content != "" {
		records, err = st.ListByContent(ctx, *content)
	} else {
		records, err = st.List(ctx, *limit)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.stdout, "No commitments recorded.")
		return nil
	}

	fmt.Fprintf(c.stdout, "%-36s  %-14s  %-5s  %-20s\n", "ID", "Reference", "Human", "Committed")
	fmt.Fprintln(c.stdout, strings.Repeat("-", 81))
	for _, r := range records {
		committed := time.UnixMilli(int64(r.Timestamp)).UTC().Format(time.RFC3339)
		fmt.Fprintf(c.stdout, "%-36s  %-14s  %-5t  %-20s\n", r.ID, shorten(r.ReferenceID, 14), r.HumanVerified, committed)
	}

	if stats, err := st.GetStats(ctx); err == nil {
		fmt.Fprintf(c.stdout, "\n%d commitments (%d human verified), %d verifications\n",
			stats.Commitments, stats.HumanVerified, stats.Verifications)
	}
	return nil
}

func (c *cli) cmdShow(args []string) error {
	fs := c.flagSet("show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError{"typeproof show <id|reference-id>"}
	}
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	id := fs.Arg(0)
	var rec *store.Record
	if strings.HasPrefix(id, "0x") {
		rec, err = st.GetByReference(ctx, id)
	} else {
		rec, err = st.Get(ctx, id)
	}
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("commitment %s not found", id)
	}

	runs, err := st.Verifications(ctx, rec.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "ID:             %s\n", rec.ID)
	fmt.Fprintf(c.stdout, "Reference ID:   %s\n", rec.ReferenceID)
	fmt.Fprintf(c.stdout, "Content hash:   %s\n", rec.ContentHash)
	fmt.Fprintf(c.stdout, "Human verified: %t\n", rec.HumanVerified)
	fmt.Fprintf(c.stdout, "Stored at:      %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	if rec.Verdict != nil {
		fmt.Fprintf(c.stdout, "Score:          %.1f\n", rec.Verdict.Score)
		for _, ch := range rec.Verdict.Checks {
			fmt.Fprintf(c.stdout, "  %-22s %t  %s\n", ch.Name, ch.Passed, ch.Reason)
		}
	}
	if len(runs) > 0 {
		fmt.Fprintln(c.stdout, "\nVerifications:")
		for _, v := range runs {
			fmt.Fprintf(c.stdout, "  %s  %-6s ok=%-5t %s\n", v.CreatedAt.UTC().Format(time.RFC3339), v.Kind, v.OK, v.Detail)
		}
	}
	return nil
}

func (c *cli) cmdKeygen(args []string) error {
	fs := c.flagSet("keygen")
	out := fs.String("out", "", "key path (default: signing.key_path from config)")
	force := fs.Bool("force", false, "overwrite an existing key")
	comment := fs.String("comment", "typeproof builder key", "key comment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = c.cfg.Signing.KeyPath
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	s, err := signer.Generate(rand.Reader)
	if err != nil {
		return err
	}
	if err := s.WritePrivateKey(path, *comment); err != nil {
		return err
	}
	pub, err := s.AuthorizedKey()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".pub", pub, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	fmt.Fprintf(c.stdout, "Private key:  %s\n", path)
	fmt.Fprintf(c.stdout, "Public key:   %s\n", hex.EncodeToString(s.PublicKey()))
	fmt.Fprintf(c.stdout, "Fingerprint:  %s\n", s.Fingerprint())
	if !c.cfg.Signing.Enabled {
		fmt.Fprintln(c.stdout, "\nSet signing.enabled = true to sign new commitments with this key.")
	}
	return nil
}

func (c *cli) cmdConfig(args []string) error {
	if len(args) < 1 {
		return usageError{"typeproof config init|check|path"}
	}
	path := c.configPath
	if path == "" {
		path = config.ConfigPath()
	}

	switch args[0] {
	case "path":
		fmt.Fprintln(c.stdout, path)
		return nil
	case "init":
		fs := c.flagSet("config init")
		force := fs.Bool("force", false, "overwrite an existing file")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !*force {
			return fmt.Errorf("%s already exists (use -force to overwrite)", path)
		}
		if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Wrote default configuration to %s\n", path)
		return nil
	case "check":
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		for _, w := range cfg.Warnings() {
			fmt.Fprintf(c.stdout, "%s\n", w.Error())
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "%s: OK\n", path)
		return nil
	default:
		return usageError{"typeproof config init|check|path"}
	}
}

func (c *cli) openStore() (*store.Store, error) {
	return store.Open(c.cfg.Storage.Path)
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

func writeIndented(w interface{ Write([]byte) (int, error) }, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
