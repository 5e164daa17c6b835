package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/loader"
	"github.com/jbweber/anvil/internal/metadata"
)

var destroyDisks bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <uuid | instance.yaml>",
	Short: "Remove everything a start attempt left on the host",
	Long: `Tear down an instance after a failed or aborted start.

This will:
- Destroy and undefine the domain
- Unplug the VIFs
- Remove the instance's firewall filters
- Detach encryptors and disconnect every volume
- With --destroy-disks, delete instance disks and the instance directory

The instance is read from the given resource file, or, given a UUID, from
the metadata stored on its domain. Every step is attempted even if an
earlier one fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		h, err := openHost(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		inst, err := resolveInstance(h, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Cleaning up instance %s (%s)...\n", inst.Name, inst.UUID())
		h.driver.Cleanup(ctx, inst, destroyDisks)
		fmt.Println("✓ Cleanup complete")
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&destroyDisks, "destroy-disks", false, "Also delete instance disks and the instance directory")
}

// resolveInstance loads ref as a resource file, or as the UUID of a
// domain carrying instance metadata.
func resolveInstance(h *host, ref string) (*v1alpha1.Instance, error) {
	if _, err := os.Stat(ref); err == nil {
		return loader.LoadFromFile(ref)
	}
	if _, err := uuid.Parse(ref); err != nil {
		return nil, fmt.Errorf("%s is neither a resource file nor an instance uuid", ref)
	}

	byUID := &v1alpha1.Instance{ObjectMeta: v1alpha1.ObjectMeta{UID: ref}}
	dom, err := h.client.Libvirt().DomainLookupByName(byUID.DomainName())
	if err != nil {
		return nil, fmt.Errorf("domain %s not found: %w", byUID.DomainName(), err)
	}
	return metadata.Load(h.client.Libvirt(), dom)
}
