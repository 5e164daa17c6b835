package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/loader"
	"github.com/jbweber/anvil/internal/output"
)

var saveStatusPath string

var startCmd = &cobra.Command{
	Use:   "start <instance.yaml>",
	Short: "Start an instance from a resource file",
	Long: `Start a guest instance described by an Instance resource file.

This will:
- Connect every volume and attach its encryptor
- Plug the VIFs and wait for the network backend to confirm them
- Set up firewall filters
- Create the domain and resume it once networking is confirmed

If any step fails, everything set up so far is torn down again.

While waiting for confirmations the event ingress listens on the configured
events.listen address; see 'anvil events send'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		inst, err := loader.LoadFromFile(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		h, err := openHost(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		if h.cfg.EventCapable() {
			srv := h.serveEvents()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					h.log.WithError(err).Warn("Failed to stop event server")
				}
			}()
		}

		fmt.Printf("Starting instance %s (%s)...\n", inst.Name, inst.UUID())
		_, spawnErr := h.driver.Spawn(ctx, inst)

		if saveStatusPath != "" {
			if err := loader.SaveToFile(inst, saveStatusPath); err != nil {
				h.log.WithError(err).Warn("Failed to save instance status")
			}
		}
		if spawnErr != nil {
			return fmt.Errorf("failed to start instance %s: %w", inst.Name, spawnErr)
		}

		fmt.Printf("✓ Instance %s is %s\n", inst.Name, inst.Status.Phase)
		return printInstance(inst)
	},
}

func init() {
	addOutputFlags(startCmd)
	startCmd.Flags().StringVar(&saveStatusPath, "save", "", "Write the instance, including its status, to this file")
}
