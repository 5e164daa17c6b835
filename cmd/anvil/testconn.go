package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/libvirt"
)

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println("Testing libvirt connection...")

		client, err := libvirt.Connect(cfg.Libvirt.Socket, cfg.Libvirt.Timeout)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				log.WithError(closeErr).Warn("Failed to close libvirt connection")
			}
		}()

		fmt.Println("✓ Connected to libvirt daemon")

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		info, err := client.Info()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Libvirt version: %s\n", info.Version)
		fmt.Printf("✓ Hypervisor hostname: %s\n", info.Hostname)
		fmt.Printf("✓ Connection URI: %s\n", info.URI)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}
