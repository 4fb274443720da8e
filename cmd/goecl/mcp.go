package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goecl/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp [document...]",
	Short: "Serve the context graph to MCP clients over stdio",
	Long: `Extract the given documents, then serve the merged graph of the most recent
run over the Model Context Protocol on stdin/stdout.

Tools: get_tower_context, find_opportunities, assess_risk,
get_company_relationships, search_entities. Resource: goecl://graph.

Example client configuration:
  {"command": "goecl", "args": ["mcp", "site_report.txt"]}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		for _, path := range args {
			report, err := eng.ExtractDocument(cmd.Context(), path)
			if report == nil {
				return fmt.Errorf("extracting %s: %w", path, err)
			}
			slog.Info("mcp: document loaded", "path", path,
				"entities", report.Graph.Len(), "pipeline_id", report.Trace.PipelineID)
		}
		return mcpserver.New(version, eng.Graph).Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
