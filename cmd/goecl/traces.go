package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var tracesLimit int

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Inspect stored audit traces",
	Long: `Inspect the pipeline traces written by previous runs.

Examples:
  goecl traces list --limit 5
  goecl traces show pipeline_0192f0c1-...
  goecl traces stats`,
}

var tracesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent pipeline traces",
	Args:  cobra.NoArgs,
	RunE:  runTracesList,
}

var tracesShowCmd = &cobra.Command{
	Use:   "show <pipeline-id>",
	Short: "Show one pipeline trace with every expert",
	Args:  cobra.ExactArgs(1),
	RunE:  runTracesShow,
}

var tracesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate stored runs per expert (SQLite store only)",
	Args:  cobra.NoArgs,
	RunE:  runTracesStats,
}

func init() {
	tracesListCmd.Flags().IntVarP(&tracesLimit, "limit", "n", 20, "Maximum traces to list")
	tracesCmd.AddCommand(tracesListCmd, tracesShowCmd, tracesStatsCmd)
	rootCmd.AddCommand(tracesCmd)
}

func runTracesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	traces, err := eng.Traces(cmd.Context(), tracesLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), traces)
	}
	if len(traces) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No traces stored.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTraceList(traces, terminalWidth()))
	return nil
}

func runTracesShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	t, err := eng.Trace(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTrace(t, terminalWidth()))
	return nil
}

func runTracesStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	stats, err := eng.ExpertStats(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), stats)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderStats(stats, terminalWidth()))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
