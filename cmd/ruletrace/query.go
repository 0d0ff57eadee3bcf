package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/ruletrace"
)

var (
	flagSpecImpl string
	flagPrefix   string
	flagLimit    int
)

// addSelectorFlag registers --spec-impl on cmd.
func addSelectorFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagSpecImpl, "spec-impl", "", `spec/impl to query, e.g. "auth/go" or "auth" (optional with a single pair)`)
}

func init() {
	addSelectorFlag(uncoveredCmd)
	addSelectorFlag(untestedCmd)
	addSelectorFlag(unmappedCmd)
	addSelectorFlag(validateCmd)
	uncoveredCmd.Flags().StringVar(&flagPrefix, "prefix", "", "only rules whose id starts with this prefix")
	untestedCmd.Flags().StringVar(&flagPrefix, "prefix", "", "only rules whose id starts with this prefix")
	searchCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum number of results")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coverage for every spec/impl pair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine(cmd.Context())
		if err != nil {
			return outputError("status", err)
		}
		defer e.Close()
		return outputResult(CLIResult{Command: "status", Results: e.Query().Status()})
	},
}

var uncoveredCmd = &cobra.Command{
	Use:   "uncovered",
	Short: "List rules without implementation references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine(cmd.Context())
		if err != nil {
			return outputError("uncovered", err)
		}
		defer e.Close()
		list, err := e.Query().Uncovered(flagSpecImpl, flagPrefix)
		if err != nil {
			return outputError("uncovered", err)
		}
		return outputResult(CLIResult{Command: "uncovered", Results: list, TotalCount: &list.Count})
	},
}

var untestedCmd = &cobra.Command{
	Use:   "untested",
	Short: "List implemented rules without verification references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine(cmd.Context())
		if err != nil {
			return outputError("untested", err)
		}
		defer e.Close()
		list, err := e.Query().Untested(flagSpecImpl, flagPrefix)
		if err != nil {
			return outputError("untested", err)
		}
		return outputResult(CLIResult{Command: "untested", Results: list, TotalCount: &list.Count})
	},
}

var unmappedCmd = &cobra.Command{
	Use:   "unmapped [path]",
	Short: "List code units that reference no rule",
	Long:  "Without a path, lists top-level folders and files with their mapped share. With a folder, zooms one level in; with a file, lists its unmapped units.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		e, err := buildEngine(cmd.Context())
		if err != nil {
			return outputError("unmapped", err)
		}
		defer e.Close()
		res, err := e.Query().Unmapped(flagSpecImpl, path)
		if err != nil {
			return outputError("unmapped", err)
		}
		return outputResult(CLIResult{Command: "unmapped", Results: res, TotalCount: &res.Unmapped})
	},
}

var ruleCmd = &cobra.Command{
	Use:   "rule <id>",
	Short: "Show a rule with its references in every impl",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine(cmd.Context())
		if err != nil {
			return outputError("rule", err)
		}
		defer e.Close()
		res, err := e.Query().Rule(args[0])
		if err != nil {
			return outputError("rule", err)
		}
		return outputResult(CLIResult{Command: "rule", Results: res})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report broken references, duplicates, naming violations and cycles",
	Long:  "Validates one spec/impl pair, or every pair when --spec-impl is omitted. Exits non-zero when any error is found.",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	e, err := buildEngine(cmd.Context())
	if err != nil {
		return outputError("validate", err)
	}
	defer e.Close()
	q := e.Query()

	sels := []string{flagSpecImpl}
	if flagSpecImpl == "" {
		sels = sels[:0]
		for _, p := range q.Pairs() {
			sels = append(sels, p.String())
		}
	}

	results := make([]*ruletrace.ValidateResult, 0, len(sels))
	errs := 0
	for _, sel := range sels {
		res, err := q.Validate(sel)
		if err != nil {
			return outputError("validate", err)
		}
		errs += res.Report.Errors()
		results = append(results, res)
	}
	if err := outputResult(CLIResult{Command: "validate", Results: results, TotalCount: &errs}); err != nil {
		return err
	}
	if errs > 0 {
		errorHandled = true
		return fmt.Errorf("validation found %d error(s)", errs)
	}
	return nil
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search rule ids, rule text, file paths and source lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine(cmd.Context())
		if err != nil {
			return outputError("search", err)
		}
		defer e.Close()
		results := e.Query().Search(args[0], flagLimit)
		n := len(results)
		return outputResult(CLIResult{Command: "search", Results: results, TotalCount: &n})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine(cmd.Context())
		if err != nil {
			return outputError("config", err)
		}
		defer e.Close()
		return outputResult(CLIResult{Command: "config", Results: e.Query().Config()})
	},
}

// outputResult writes a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(stdout, result)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}
