package verify

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"typeproof/internal/commitment"
)

// ReportFormat specifies the output format for verification reports.
type ReportFormat string

const (
	FormatJSON     ReportFormat = "json"
	FormatText     ReportFormat = "text"
	FormatMarkdown ReportFormat = "markdown"
)

// VerificationReport is the printable view of a verification run.
type VerificationReport struct {
	Valid         bool      `json:"valid"`
	ReferenceID   string    `json:"reference_id"`
	ContentHash   string    `json:"content_hash"`
	AuthorityHash string    `json:"authority_hash"`
	HumanVerified bool      `json:"human_verified"`
	CommittedAt   time.Time `json:"committed_at"`
	Signed        bool      `json:"signed"`
	PublicKey     string    `json:"public_key,omitempty"`

	WordCount            uint32  `json:"word_count"`
	AverageKeystrokeTime float64 `json:"average_keystroke_time"`
	TotalEditingTime     float64 `json:"total_editing_time"`

	Checks  []CheckOutcome `json:"checks"`
	Passed  int            `json:"passed"`
	Failed  int            `json:"failed"`
	Skipped int            `json:"skipped"`

	Remote      *RemoteResult `json:"remote,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// NewReport summarizes a local verification of c. c may be nil when the
// input could not be decoded.
func NewReport(c *commitment.Commitment, res Result) *VerificationReport {
	r := &VerificationReport{
		Valid:       res.Consistent,
		Checks:      res.Checks,
		GeneratedAt: time.Now().UTC(),
	}
	for _, ch := range res.Checks {
		switch ch.Status {
		case StatusPassed:
			r.Passed++
		case StatusFailed:
			r.Failed++
		case StatusSkipped:
			r.Skipped++
		}
	}
	if c == nil {
		return r
	}

	r.ReferenceID = ReferenceID(c)
	r.ContentHash = c.PublicValues.ContentHash
	r.AuthorityHash = c.PublicValues.AuthorityHash
	r.HumanVerified = c.PublicValues.HumanVerified
	r.CommittedAt = time.UnixMilli(int64(c.PublicValues.Timestamp)).UTC()
	r.Signed = c.Signed()
	r.PublicKey = c.PublicKey
	r.WordCount = c.VerificationData.WordCount
	r.AverageKeystrokeTime = c.VerificationData.AverageKeystrokeTime
	r.TotalEditingTime = c.VerificationData.TotalEditingTime
	return r
}

// WithRemote attaches a remote verification result.
func (report *VerificationReport) WithRemote(rr RemoteResult) *VerificationReport {
	report.Remote = &rr
	return report
}

// Summary generates a one-line summary of the report.
func (report *VerificationReport) Summary() string {
	var sb strings.Builder

	if report.Valid {
		sb.WriteString("[CONSISTENT]")
	} else {
		sb.WriteString("[INCONSISTENT]")
	}
	if report.HumanVerified {
		sb.WriteString(" human-verified")
	} else {
		sb.WriteString(" not-human-verified")
	}
	sb.WriteString(fmt.Sprintf(" - %d/%d checks passed", report.Passed, report.Passed+report.Failed))
	if report.Failed > 0 {
		sb.WriteString(fmt.Sprintf(", %d failed", report.Failed))
	}
	return sb.String()
}

// FailedChecks returns the names of failed checks.
func (report *VerificationReport) FailedChecks() []string {
	var failed []string
	for _, ch := range report.Checks {
		if ch.Status == StatusFailed {
			failed = append(failed, ch.Name)
		}
	}
	return failed
}

// ReportGenerator renders verification reports.
type ReportGenerator struct {
	format  ReportFormat
	verbose bool
}

// NewReportGenerator creates a new report generator.
func NewReportGenerator(format ReportFormat) *ReportGenerator {
	return &ReportGenerator{format: format}
}

// WithVerbose enables verbose output.
func (g *ReportGenerator) WithVerbose(verbose bool) *ReportGenerator {
	g.verbose = verbose
	return g
}

// Generate produces a report in the configured format.
func (g *ReportGenerator) Generate(report *VerificationReport, w io.Writer) error {
	switch g.format {
	case FormatJSON:
		return g.generateJSON(report, w)
	case FormatText:
		return g.generateText(report, w)
	case FormatMarkdown:
		return g.generateMarkdown(report, w)
	default:
		return fmt.Errorf("unknown format: %s", g.format)
	}
}

func (g *ReportGenerator) generateJSON(report *VerificationReport, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func (g *ReportGenerator) generateText(report *VerificationReport, w io.Writer) error {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "                     TYPING PROOF VERIFICATION REPORT")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Result:          %s\n", g.resultString(report.Valid))
	fmt.Fprintf(w, "Human Verified:  %t\n", report.HumanVerified)
	fmt.Fprintf(w, "Reference ID:    %s\n", report.ReferenceID)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "--- Commitment ---")
	fmt.Fprintf(w, "Content Hash:    %s\n", g.truncateHash(report.ContentHash))
	fmt.Fprintf(w, "Authority Hash:  %s\n", g.truncateHash(report.AuthorityHash))
	if !report.CommittedAt.IsZero() {
		fmt.Fprintf(w, "Committed:       %s\n", report.CommittedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Words:           %d\n", report.WordCount)
	fmt.Fprintf(w, "Avg Interval:    %.1f ms\n", report.AverageKeystrokeTime)
	fmt.Fprintf(w, "Editing Time:    %.1f s\n", report.TotalEditingTime/1000)
	if report.Signed {
		fmt.Fprintf(w, "Builder Key:     %s\n", g.truncateHash(report.PublicKey))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "--- Checks ---")
	for _, ch := range report.Checks {
		fmt.Fprintf(w, "[%s] %-24s", g.statusSymbol(ch.Status), ch.Name)
		if ch.Message != "" && (g.verbose || ch.Status == StatusFailed) {
			fmt.Fprintf(w, " %s", ch.Message)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	if report.Remote != nil {
		fmt.Fprintln(w, "--- Remote ---")
		fmt.Fprintf(w, "Ledger:          %s\n", report.Remote.Ledger)
		fmt.Fprintf(w, "Verified:        %t\n", report.Remote.Verified)
		fmt.Fprintf(w, "Status:          %s\n", report.Remote.Receipt.Status)
		if g.verbose {
			for k, v := range report.Remote.Receipt.Details {
				fmt.Fprintf(w, "  %s: %s\n", k, v)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Summary ---")
	fmt.Fprintf(w, "Passed:   %d\n", report.Passed)
	fmt.Fprintf(w, "Failed:   %d\n", report.Failed)
	fmt.Fprintf(w, "Skipped:  %d\n", report.Skipped)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Note: a consistent commitment shows its claims agree with each other.")
	fmt.Fprintln(w, "The human verdict is a timing heuristic, not proof of authorship.")
	return nil
}

func (g *ReportGenerator) generateMarkdown(report *VerificationReport, w io.Writer) error {
	tmpl := `# Typing Proof Verification Report

| Property | Value |
|----------|-------|
| **Result** | {{.ResultString}} |
| **Human Verified** | {{.HumanVerified}} |
| **Reference ID** | ` + "`{{.ReferenceID}}`" + ` |
| Content Hash | ` + "`{{.ContentHash}}`" + ` |
| Authority Hash | ` + "`{{.AuthorityHash}}`" + ` |
| Words | {{.WordCount}} |
| Signed | {{.Signed}} |

## Checks

| Check | Status | Message |
|-------|--------|---------|
{{range .Checks}}| {{.Name}} | {{statusLabel .Status}} | {{.Message}} |
{{end}}
{{if .Remote}}
## Remote

- **Ledger:** {{.Remote.Ledger}}
- **Verified:** {{.Remote.Verified}}
- **Status:** {{.Remote.Receipt.Status}}
{{end}}
---
*Report generated at {{.GeneratedAt}}*
`
	funcMap := template.FuncMap{
		"statusLabel": func(s CheckStatus) string {
			switch s {
			case StatusPassed:
				return "PASS"
			case StatusFailed:
				return "FAIL"
			case StatusSkipped:
				return "SKIP"
			default:
				return "?"
			}
		},
	}

	t, err := template.New("report").Funcs(funcMap).Parse(tmpl)
	if err != nil {
		return err
	}

	view := struct {
		*VerificationReport
		ResultString string
	}{
		VerificationReport: report,
		ResultString:       g.resultString(report.Valid),
	}
	return t.Execute(w, view)
}

func (g *ReportGenerator) resultString(valid bool) string {
	if valid {
		return "CONSISTENT"
	}
	return "INCONSISTENT"
}

func (g *ReportGenerator) statusSymbol(status CheckStatus) string {
	switch status {
	case StatusPassed:
		return "OK"
	case StatusFailed:
		return "!!"
	case StatusSkipped:
		return "--"
	default:
		return "  "
	}
}

func (g *ReportGenerator) truncateHash(hash string) string {
	if len(hash) <= 16 || g.verbose {
		return hash
	}
	return hash[:8] + "..." + hash[len(hash)-8:]
}
