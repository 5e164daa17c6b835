package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/events"
)

var (
	eventsAddr   string
	eventsStatus string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "External event ingress",
	Long: `Serve or send the external events that confirm VIF plugging.

A running 'anvil start' listens on events.listen while it waits for
network-vif-plugged events.`,
}

func init() {
	eventsCmd.AddCommand(eventsServeCmd)
	eventsCmd.AddCommand(eventsSendCmd)

	eventsSendCmd.Flags().StringVar(&eventsAddr, "addr", "", "Ingress address (default events.listen from the config)")
	eventsSendCmd.Flags().StringVar(&eventsStatus, "status", events.StatusCompleted, "Event status: completed or failed")
}

var eventsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event ingress until interrupted",
	Long: `Run the event ingress on its own, without waiting for any instance.

Every event is acknowledged and dropped. Use this to check that the network
backend can reach this host.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		coord := events.NewCoordinator(log)
		srv := events.NewServer(cfg.Events.Listen, events.NewHandler(coord, log), log)
		srv.RunInBackground()

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var eventsSendCmd = &cobra.Command{
	Use:   "send <instance-uuid> <vif-id>...",
	Short: "Send network-vif-plugged events",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventsStatus != events.StatusCompleted && eventsStatus != events.StatusFailed {
			return fmt.Errorf("invalid status %q (valid: %s, %s)", eventsStatus, events.StatusCompleted, events.StatusFailed)
		}

		addr := eventsAddr
		if addr == "" {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			addr = cfg.Events.Listen
		}

		batch := make([]events.Event, 0, len(args)-1)
		for _, vifID := range args[1:] {
			batch = append(batch, events.Event{Name: v1alpha1.VIFPluggedEvent, Tag: vifID, Status: eventsStatus})
		}

		results, err := events.NewClient(addr).Send(context.Background(), args[0], batch)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%s\t%s\t%d\n", r.Key(), r.Status, r.Code)
		}
		return nil
	},
}
