// Command goecl extracts entities from documents, inspects stored audit
// traces and serves the merged context graph to MCP clients.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/brunobiangulo/goecl"
)

var version = "dev"

var (
	configPath string
	logFile    string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "goecl",
	Short: "Extract, audit and query document context graphs",
	Long: `goecl runs domain experts over documents, screens their entities against the
source text and a confidence threshold, merges them into a context graph and
stores an audit trace of every run.

Configuration is read from --config (YAML, JSON or TOML) and GOECL_*
environment variables, e.g. GOECL_LLM_MODEL or GOECL_STORE_DRIVER.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated at 50MB")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log run progress")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of tables")
}

// setupLogging sends JSON logs to stderr, keeping stdout for command output
// and the MCP stdio transport.
func setupLogging(stderr io.Writer) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	out := stderr
	if logFile != "" {
		out = io.MultiWriter(stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
}

// loadConfig applies the config file and environment.
func loadConfig() (goecl.Config, error) {
	cfg, err := goecl.LoadConfig(configPath)
	if err != nil {
		return goecl.Config{}, err
	}
	return cfg, nil
}

func openEngine(cfg goecl.Config) (goecl.Engine, error) {
	eng, err := goecl.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return eng, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
