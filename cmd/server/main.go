package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "groundzero-sync",
	Short: "Dual-mode data sync service for the GroundZero relief dashboard",
	Long: `groundzero-sync serves dashboard data from the cloud database when it is
reachable and from the on-site LAN server when it is not, queueing LAN-mode
writes and replaying them to the cloud once connectivity returns.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
