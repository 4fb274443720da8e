package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goecl/expert"
)

var expertsAll bool

var expertsCmd = &cobra.Command{
	Use:   "experts",
	Short: "List the enabled experts",
	Long: `List the experts enabled by the current configuration, in run order.
With --all, list every expert in the catalog instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var infos []expert.Info
		if expertsAll {
			infos = expert.Catalog()
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Listing never writes traces.
			cfg.Store.Driver = "none"
			eng, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.Close()
			infos = eng.Experts()
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), infos)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderExperts(infos, terminalWidth()))
		return nil
	},
}

func init() {
	expertsCmd.Flags().BoolVar(&expertsAll, "all", false, "List the whole catalog")
	rootCmd.AddCommand(expertsCmd)
}
