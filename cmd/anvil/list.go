package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/guest"
	"github.com/jbweber/anvil/internal/output"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances on this host",
	Long: `List every domain started by anvil.

Instances are read back from the metadata stored on their domains; the
phase reflects the current domain state.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   Full YAML resource definitions
  -o json   Full JSON resource definitions`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		h, err := openHost(context.Background())
		if err != nil {
			return err
		}
		defer h.Close()

		insts, err := guest.ListInstances(h.client.Libvirt(), h.log)
		if err != nil {
			return err
		}

		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		result, err := formatter.FormatInstanceList(insts)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

var disksCmd = &cobra.Command{
	Use:   "disks <instance-uuid>",
	Short: "List an instance's disks in the storage pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		ctx := context.Background()
		h, err := openHost(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		vols, err := h.storage.ListInstanceVolumes(ctx, h.cfg.StoragePool, args[0])
		if err != nil {
			return err
		}

		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		result, err := formatter.FormatVolumes(vols)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

func init() {
	addOutputFlags(listCmd)
	addOutputFlags(disksCmd)
}

func newFormatter() (output.Formatter, error) {
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}

func printInstance(inst *v1alpha1.Instance) error {
	formatter, err := newFormatter()
	if err != nil {
		return err
	}
	result, err := formatter.FormatInstance(inst)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(result)
	return nil
}
