package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/jward/ruletrace"
	"github.com/jward/ruletrace/internal/scanner"
	"github.com/jward/ruletrace/internal/validate"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	errColor   = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgYellow)
	titleColor = color.New(color.Bold)
	dimColor   = color.New(color.Faint)
)

// percentColor picks a color for a coverage percentage.
func percentColor(p float64) *color.Color {
	switch {
	case p >= 80:
		return okColor
	case p >= 50:
		return warnColor
	}
	return errColor
}

// formatStatusText formats coverage per pair as aligned columns.
func formatStatusText(w io.Writer, st ruletrace.StatusResult) {
	if st.ConfigError != "" {
		errColor.Fprintf(w, "Configuration error: %s\n\n", st.ConfigError)
	}
	if len(st.Pairs) == 0 {
		fmt.Fprintln(w, "No specs configured.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PAIR\tRULES\tIMPL\tVERIFY\tERRORS\tWARNINGS")
	for _, p := range st.Pairs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%d\n",
			p.Pair, p.Summary.Total,
			percentColor(p.ImplPercent).Sprintf("%.0f%%", p.ImplPercent),
			percentColor(p.VerifyPercent).Sprintf("%.0f%%", p.VerifyPercent),
			p.Errors, p.Warnings)
	}
	tw.Flush()
}

// formatRuleListText formats uncovered or untested rules by section.
func formatRuleListText(w io.Writer, command string, list *ruletrace.RuleList) {
	what := "uncovered"
	if command == "untested" {
		what = "untested"
	}
	fmt.Fprintf(w, "%s: %d %s out of %d rules\n", list.Pair, list.Count, what, list.Total)
	for _, s := range list.Sections {
		fmt.Fprintln(w)
		titleColor.Fprintf(w, "%s", s.Title)
		dimColor.Fprintf(w, " (%s)\n", s.File)
		for _, id := range s.Rules {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
}

// formatUnmappedText formats an unmapped-code report.
func formatUnmappedText(w io.Writer, res *ruletrace.UnmappedResult) {
	fmt.Fprintf(w, "%s: %d unmapped code units out of %d total\n", res.Pair, res.Unmapped, res.Total)
	if len(res.Entries) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tUNITS\tMAPPED")
		for _, e := range res.Entries {
			path := e.Path
			if e.Dir {
				path += "/"
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", path, e.Units, percentColor(e.Percent).Sprintf("%.0f%%", e.Percent))
		}
		tw.Flush()
	}
	for _, u := range res.Units {
		name := u.Name
		if name == "" {
			name = "(anonymous)"
		}
		fmt.Fprintf(w, "  %s:%d-%d %s %s\n", res.Path, u.StartLine, u.EndLine, u.Kind, name)
	}
}

// formatRuleText formats one rule with its references per pair.
func formatRuleText(w io.Writer, res *ruletrace.RuleResult) {
	def := res.Definition
	titleColor.Fprintf(w, "%s\n", def.ID)
	dimColor.Fprintf(w, "%s:%d (spec %s)\n", def.SpecFile, def.Line, res.Spec)
	if text := strings.TrimSpace(def.RawText); text != "" {
		fmt.Fprintf(w, "\n%s\n", text)
	}
	for _, p := range res.Pairs {
		fmt.Fprintf(w, "\n%s\n", p.Pair)
		formatRefs(w, scanner.VerbImpl, p.Impl)
		formatRefs(w, scanner.VerbVerify, p.Verify)
		if len(p.Depends) > 0 {
			formatRefs(w, scanner.VerbDepends, p.Depends)
		}
		if len(p.Related) > 0 {
			formatRefs(w, scanner.VerbRelated, p.Related)
		}
		for _, r := range p.Stale {
			warnColor.Fprintf(w, "  stale   %s:%d (%s)\n", r.File, r.Line, r.RuleID)
		}
	}
}

func formatRefs(w io.Writer, verb scanner.Verb, refs []scanner.Reference) {
	if len(refs) == 0 {
		dimColor.Fprintf(w, "  %-7s (none)\n", verb)
		return
	}
	for _, r := range refs {
		fmt.Fprintf(w, "  %-7s %s:%d\n", verb, r.File, r.Line)
	}
}

// formatValidateText formats validation reports, one per pair.
func formatValidateText(w io.Writer, results []*ruletrace.ValidateResult) {
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if res.ConfigError != "" {
			errColor.Fprintf(w, "Configuration error: %s\n", res.ConfigError)
		}
		n := res.Report.Errors()
		if n == 0 {
			okColor.Fprintf(w, "✓ %s: no validation errors\n", res.Pair)
		} else {
			errColor.Fprintf(w, "✗ %s: %d error(s)\n", res.Pair, n)
		}
		for _, is := range res.Report.Issues {
			c := errColor
			if is.Severity == validate.SeverityWarning {
				c = warnColor
			}
			loc := is.File
			if is.Line > 0 {
				loc = fmt.Sprintf("%s:%d", is.File, is.Line)
			}
			fmt.Fprintf(w, "  %s %s", c.Sprintf("%-8s", is.Severity), is.Message)
			if loc != "" {
				dimColor.Fprintf(w, " (%s)", loc)
			}
			fmt.Fprintln(w)
			if len(is.Suggestions) > 0 {
				fmt.Fprintf(w, "           did you mean: %s\n", strings.Join(is.Suggestions, ", "))
			}
		}
	}
}

// formatSearchText formats search results as aligned columns.
func formatSearchText(w io.Writer, results []ruletrace.SearchResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tLOCATION\tTEXT")
	for _, r := range results {
		loc := r.Rule
		if r.File != "" {
			loc = r.File
			if r.Line > 0 {
				loc = fmt.Sprintf("%s:%d", r.File, r.Line)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Kind, loc, oneLine(r.Text, 80))
	}
	tw.Flush()
}

// formatConfigText formats the resolved configuration.
func formatConfigText(w io.Writer, info ruletrace.ConfigInfo) {
	fmt.Fprintf(w, "Root: %s\n", info.Root)
	if info.Path != "" {
		fmt.Fprintf(w, "Config: %s\n", info.Path)
	}
	if info.Error != "" {
		errColor.Fprintf(w, "Error: %s\n", info.Error)
	}
	for _, s := range info.Specs {
		fmt.Fprintln(w)
		titleColor.Fprintf(w, "%s", s.Name)
		fmt.Fprintf(w, " (prefix %s)\n", s.Prefix)
		fmt.Fprintf(w, "  include: %s\n", strings.Join(s.Include, ", "))
		if s.Naming != "" {
			fmt.Fprintf(w, "  naming:  %s\n", s.Naming)
		}
		for _, im := range s.Impls {
			fmt.Fprintf(w, "  impl %s (%s): %s\n", im.Name, im.Lang, strings.Join(im.Include, ", "))
		}
	}
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > limit {
		return s[:limit-3] + "..."
	}
	return s
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case ruletrace.StatusResult:
		formatStatusText(w, v)
	case *ruletrace.RuleList:
		formatRuleListText(w, result.Command, v)
	case *ruletrace.UnmappedResult:
		formatUnmappedText(w, v)
	case *ruletrace.RuleResult:
		formatRuleText(w, v)
	case []*ruletrace.ValidateResult:
		formatValidateText(w, v)
	case []ruletrace.SearchResult:
		formatSearchText(w, v)
	case ruletrace.ConfigInfo:
		formatConfigText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
