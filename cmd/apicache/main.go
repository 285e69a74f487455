package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "apicache",
		Short:        "Caching proxy for the trial marketplace API",
		Long:         "Serve marketplace API responses from an in-memory cache and invalidate them on mutations",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")

	cmd.AddCommand(serveCmd(&configPath))
	cmd.AddCommand(configCmd(&configPath))

	return cmd
}
