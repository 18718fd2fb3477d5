package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "apikit-sample",
		Short: "Sample notes API built with apikit",
		Long: `apikit-sample serves a small notes API with accounts, bearer
authentication and per-owner access rules.

Configuration is read from --config (YAML) and overridden by the environment:
DATABASE_URL, JWT_SECRET, REDIS_ADDR, API_URL and APIKIT_*.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(routesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
