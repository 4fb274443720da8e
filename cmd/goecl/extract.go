package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goecl"
)

var (
	extractThreshold float64
	extractExperts   []string
	extractModel     bool
	extractContext   map[string]string
	extractCypher    bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <document|->",
	Short: "Run the experts over a document",
	Long: `Run the enabled experts over a document and print the audit trace summary.

Plain text, Markdown, CSV, PDF and XLSX documents are read by extension; "-"
reads text from stdin.

Examples:
  goecl extract lease.pdf
  goecl extract --expert ContractExpert --threshold 0.8 lease.txt
  goecl extract --model --context tower_id=ATL-001 report.xlsx
  cat notes.txt | goecl extract --json -`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.Float64Var(&extractThreshold, "threshold", 0, "Confidence threshold for this run (default from config)")
	f.StringSliceVarP(&extractExperts, "expert", "e", nil, "Run only these experts (repeatable)")
	f.BoolVar(&extractModel, "model", false, "Use model-backed experts with pattern fallback")
	f.StringToStringVar(&extractContext, "context", nil, "Context values passed to experts, key=value")
	f.BoolVar(&extractCypher, "cypher", false, "Print the merged graph as Cypher statements")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if extractModel {
		cfg.UseModel = true
	}
	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	var opts []goecl.ExtractOption
	if extractThreshold != 0 {
		opts = append(opts, goecl.WithThreshold(extractThreshold))
	}
	if len(extractExperts) > 0 {
		opts = append(opts, goecl.WithExperts(extractExperts...))
	}
	if len(extractContext) > 0 {
		values := make(map[string]any, len(extractContext))
		for k, v := range extractContext {
			values[k] = v
		}
		opts = append(opts, goecl.WithContext(values))
	}

	ctx := cmd.Context()
	var report *goecl.Report
	if args[0] == "-" {
		data, rerr := io.ReadAll(cmd.InOrStdin())
		if rerr != nil {
			return fmt.Errorf("reading stdin: %w", rerr)
		}
		report, err = eng.Extract(ctx, string(data), opts...)
	} else {
		if _, serr := os.Stat(args[0]); serr != nil {
			return serr
		}
		report, err = eng.ExtractDocument(ctx, args[0], opts...)
	}
	if report == nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case extractCypher:
		fmt.Fprint(out, report.Graph.Cypher())
	case jsonOutput:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(report); jerr != nil {
			return jerr
		}
	default:
		fmt.Fprintln(out, renderTrace(report.Trace, terminalWidth()))
		if report.Published != nil {
			fmt.Fprintf(out, "Published to graph sink: %d nodes, %d edges, %d failed\n",
				report.Published.NodesWritten, report.Published.EdgesWritten, report.Published.Failed)
		}
		if report.Graph.Len() > 0 {
			fmt.Fprintln(out, renderEntities(report.Graph.Entities(), terminalWidth()))
		}
	}
	return err
}

func terminalWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(cols), "%d", &n); err == nil && n >= 60 {
			return n
		}
	}
	return 100
}
