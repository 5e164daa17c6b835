package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Global flags
var (
	configPath   string
	logLevel     string
	outputFormat string
	noHeaders    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "Anvil - libvirt instance start orchestrator",
	Long: `Anvil starts guest instances on a libvirt host.

It plugs the instance's network interfaces, connects and decrypts its
volumes, creates the domain and applies firewall filters. A failed start
is rolled back completely.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/anvil/anvil.yaml", "Host configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(disksCmd)
	rootCmd.AddCommand(testConnCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the anvil version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("anvil %s (commit: %s)\n", version, commit)
	},
}

// addOutputFlags registers the -o and --no-headers flags on cmd.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, yaml, json")
	cmd.Flags().BoolVar(&noHeaders, "no-headers", false, "Don't print headers (table format only)")
}
