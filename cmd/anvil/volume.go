package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/loader"
)

var (
	volumeDevice   string
	volumeBus      string
	volumeInstance string
)

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Connect and disconnect single volumes",
	Long: `Operate on one volume outside of an instance start.

Each command reads a connection descriptor (driver_volume_type, data,
serial) from a YAML or JSON file.`,
}

func init() {
	volumeCmd.AddCommand(volumeConnectCmd)
	volumeCmd.AddCommand(volumeDisconnectCmd)
	volumeCmd.AddCommand(volumeConfigCmd)

	for _, cmd := range []*cobra.Command{volumeConnectCmd, volumeDisconnectCmd, volumeConfigCmd} {
		cmd.Flags().StringVar(&volumeDevice, "device", "/dev/vdb", "Guest device the volume is attached as")
		cmd.Flags().StringVar(&volumeBus, "bus", "", "Guest disk bus (default virtio)")
		cmd.Flags().StringVar(&volumeInstance, "instance", "", "UUID of the owning instance, used for logging")
	}
}

// volumeMapping builds the block device mapping for the descriptor at path.
func volumeMapping(path string) (*v1alpha1.Instance, v1alpha1.BlockDeviceMapping, error) {
	info, err := loader.LoadConnectionInfo(path)
	if err != nil {
		return nil, v1alpha1.BlockDeviceMapping{}, err
	}

	inst := &v1alpha1.Instance{ObjectMeta: v1alpha1.ObjectMeta{Name: "volume", UID: volumeInstance}}
	bdm := v1alpha1.BlockDeviceMapping{
		ConnectionInfo: info,
		MountDevice:    volumeDevice,
		DiskBus:        volumeBus,
	}
	return inst, bdm, nil
}

var volumeConnectCmd = &cobra.Command{
	Use:   "connect <connection.yaml>",
	Short: "Connect a volume to this host",
	Long: `Connect a volume and print its guest disk descriptor.

Encrypted RBD volumes are mapped locally and get a stable device symlink;
other volumes are opened by qemu and need no host-side work.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, bdm, err := volumeMapping(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		h, err := openHost(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		conf, err := h.driver.ConnectVolume(ctx, inst, bdm)
		if err != nil {
			return err
		}

		if path := bdm.ConnectionInfo.DevicePath(); path != "" {
			fmt.Printf("✓ Volume connected at %s\n", path)
		} else {
			fmt.Println("✓ Volume connected")
		}

		xml, err := conf.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal disk config: %w", err)
		}
		fmt.Println(xml)
		return nil
	},
}

var volumeDisconnectCmd = &cobra.Command{
	Use:   "disconnect <connection.yaml>",
	Short: "Disconnect a volume from this host",
	Long: `Detach the volume's encryptor, if any, and disconnect the volume.

A volume whose local mapping is already gone is treated as disconnected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, bdm, err := volumeMapping(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		h, err := openHost(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.driver.DisconnectVolume(ctx, inst, bdm); err != nil {
			return err
		}
		fmt.Println("✓ Volume disconnected")
		return nil
	},
}

var volumeConfigCmd = &cobra.Command{
	Use:   "config <connection.yaml>",
	Short: "Print the guest disk descriptor of a volume",
	Long: `Print the libvirt disk XML a volume would be attached with.

For locally mapped volumes the descriptor is only available once the
volume is connected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, bdm, err := volumeMapping(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		h, err := openHost(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		drv, err := h.volumes.Lookup(bdm.ConnectionInfo)
		if err != nil {
			return err
		}
		conf, err := drv.GetConfig(bdm.ConnectionInfo, bdm.DiskInfo())
		if err != nil {
			return err
		}

		xml, err := conf.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal disk config: %w", err)
		}
		fmt.Println(xml)
		return nil
	},
}
