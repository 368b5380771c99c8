package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"argus/internal/git"
	"argus/internal/pipeline"
	"argus/internal/storage"
	"argus/internal/verdict"
)

var (
	jsonOutput bool
	baseRef    string
	repoDir    string
	gateRuns   int
	mutations  bool
	showTrace  bool
)

func init() {
	for _, c := range []*cobra.Command{verifyCmd, changedCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	}
	changedCmd.Flags().StringVar(&baseRef, "ref", "HEAD", "Git ref to diff the working tree against")
	changedCmd.Flags().StringVar(&repoDir, "repo", ".", "Repository root")
	gatesCmd.Flags().IntVar(&gateRuns, "runs", 0, "Derivations per unit for the determinism gate (default from config)")
	gatesCmd.Flags().BoolVar(&mutations, "mutations", true, "Also run the mutation kill-rate gate against the configured verifiers")
	traceCmd.Flags().BoolVar(&showTrace, "records", false, "Also print every trace record as a JSON line")
}

// signalContext ends on SIGINT or SIGTERM so in-flight compilers are killed.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

var verifyCmd = &cobra.Command{
	Use:   "verify [path...]",
	Short: "Verify every top-level function in the given files or directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"."}
		}
		ctx, cancel := signalContext(cmd)
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.crawler.Files(args...)
		if err != nil {
			return err
		}
		inputs, err := a.pipeline.Collect(ctx, files, nil)
		if err != nil {
			return err
		}
		return verifyInputs(ctx, cmd.OutOrStdout(), a, "full", inputs)
	},
}

var changedCmd = &cobra.Command{
	Use:   "changed",
	Short: "Verify only the functions touched by the working tree diff",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		changes, err := git.GetChangedFiles(ctx, repoDir, baseRef)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No changed Python files.")
			return nil
		}
		logger.Info("changed files", zap.String("ref", baseRef), zap.Int("files", len(changes)))

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		inputs, err := a.pipeline.Collect(ctx, git.Paths(changes), git.Touches(changes))
		if err != nil {
			return err
		}
		return verifyInputs(ctx, cmd.OutOrStdout(), a, "changed:"+baseRef, inputs)
	},
}

func verifyInputs(ctx context.Context, w io.Writer, a *app, mode string, inputs []pipeline.Input) error {
	if len(inputs) == 0 {
		fmt.Fprintln(w, "No functions to verify.")
		return nil
	}
	results, err := a.run(ctx, mode, inputs)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(results); jerr != nil {
			return jerr
		}
	} else {
		printResults(w, a.runID, results)
	}
	if err != nil {
		return err
	}
	for _, r := range results {
		if !r.Verdict.Passing() {
			return errNotPassing
		}
	}
	return nil
}

func printResults(w io.Writer, runID string, results []*pipeline.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERDICT\tUNIT\tROUTE\tATTEMPTS\tREASON")
	for _, r := range results {
		if r == nil {
			continue
		}
		route := "-"
		if r.Route != nil {
			route = r.Route.Translator.String() + "/" + r.Route.Engine.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.Verdict, r.Unit, route, len(r.Attempts), r.Reason)
	}
	_ = tw.Flush()

	sum := pipeline.Summarize(runID, results, 0)
	fmt.Fprintf(w, "\nrun %s: %d unit(s)", runID, sum.Units)
	for _, v := range verdict.All {
		if n := sum.Verdicts[string(v)]; n > 0 {
			fmt.Fprintf(w, ", %d %s", n, v)
		}
	}
	fmt.Fprintln(w)
}

var gatesCmd = &cobra.Command{
	Use:   "gates [path...]",
	Short: "Run the quality gates: determinism, assumption coverage, unsupported constructs, mutation kill rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"."}
		}
		ctx, cancel := signalContext(cmd)
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.crawler.Files(args...)
		if err != nil {
			return err
		}
		inputs, err := a.pipeline.Collect(ctx, files, nil)
		if err != nil {
			return err
		}
		runs := gateRuns
		if runs == 0 {
			runs = cfg.Pipeline.GateRuns
		}
		results, err := a.pipeline.Gates(ctx, a.runID, inputs, pipeline.GateOptions{
			Runs:        runs,
			Mutations:   mutations,
			MinKillRate: cfg.Pipeline.MinKillRate,
		})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "GATE\tUNIT\tRESULT\tDETAIL")
		for _, r := range results {
			status := "pass"
			if !r.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Gate, r.Unit, status, firstLine(r.Detail))
		}
		_ = tw.Flush()
		if !pipeline.GatesPassed(results) {
			return errNotPassing
		}
		return nil
	},
}

var traceCmd = &cobra.Command{
	Use:   "trace <run-id>",
	Short: "List the recorded verdicts of a run from the trace database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Trace.SQLite == "" {
			return fmt.Errorf("trace.sqlite is not configured; per-unit JSONL traces are under %s/%s", cfg.Trace.Root, args[0])
		}
		store, err := storage.NewSQLiteStore(cfg.Trace.SQLite)
		if err != nil {
			return err
		}
		defer store.Close()
		ctx := cmd.Context()
		w := cmd.OutOrStdout()

		rows, err := store.ListVerdicts(ctx, args[0])
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("run %s not found", args[0])
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERDICT\tUNIT\tROUTE\tATTEMPTS\tPROPERTY SET\tREASON")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%d\t%s\t%s\n", r.Verdict, r.Unit, r.Translator, r.Engine, r.Attempts, short(r.PropertyHash), r.Reason)
		}
		_ = tw.Flush()

		if !showTrace {
			return nil
		}
		records, err := store.ListRecords(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	},
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	if hash == "" {
		return "-"
	}
	return hash
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
