package volume

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/logging"
)

// NetConnectionData is the typed view of a network volume's connection data.
type NetConnectionData struct {
	VolumeID     string   `mapstructure:"volume_id"`
	Name         string   `mapstructure:"name"`
	Hosts        []string `mapstructure:"hosts"`
	Ports        []string `mapstructure:"ports"`
	AuthEnabled  bool     `mapstructure:"auth_enabled"`
	AuthUsername string   `mapstructure:"auth_username"`
	SecretType   string   `mapstructure:"secret_type"`
	SecretUUID   string   `mapstructure:"secret_uuid"`
	ClusterName  string   `mapstructure:"cluster_name"`
}

// Pool returns the pool part of Name ("pool/image").
func (d NetConnectionData) Pool() string {
	pool, _, _ := strings.Cut(d.Name, "/")
	return pool
}

// Image returns the image part of Name ("pool/image").
func (d NetConnectionData) Image() string {
	if _, image, ok := strings.Cut(d.Name, "/"); ok {
		return image
	}
	return d.Name
}

// decodeData decodes info.Data into a NetConnectionData.
func decodeData(info *v1alpha1.ConnectionInfo) (NetConnectionData, error) {
	var data NetConnectionData

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &data,
	})
	if err != nil {
		return data, err
	}
	if err := decoder.Decode(info.Data); err != nil {
		return data, fmt.Errorf("invalid connection data: %w", err)
	}
	if data.Name == "" {
		return data, fmt.Errorf("invalid connection data: name is required")
	}
	return data, nil
}

// NetDriver attaches network volumes that qemu opens itself. Connect and
// Disconnect have nothing to do on the host.
type NetDriver struct {
	// Protocol is the libvirt network disk protocol, e.g. "rbd".
	Protocol string

	// SecretUUID overrides the libvirt secret named by the connection data.
	SecretUUID string

	Log logrus.FieldLogger
}

// NewNetDriver returns a network volume driver for protocol.
func NewNetDriver(protocol, secretUUID string, log logrus.FieldLogger) *NetDriver {
	return &NetDriver{Protocol: protocol, SecretUUID: secretUUID, Log: logging.Ensure(log)}
}

// Connect implements Driver.
func (n *NetDriver) Connect(_ context.Context, info *v1alpha1.ConnectionInfo, disk v1alpha1.DiskInfo) error {
	volumeID, _ := info.VolumeID()
	logging.ForVolume(n.Log, volumeID).WithField(logging.FieldDevice, disk.Dev).
		Debug("Network volume is opened by qemu, nothing to connect")
	return nil
}

// Disconnect implements Driver.
func (n *NetDriver) Disconnect(_ context.Context, info *v1alpha1.ConnectionInfo, diskDev string) error {
	volumeID, _ := info.VolumeID()
	logging.ForVolume(n.Log, volumeID).WithField(logging.FieldDevice, diskDev).
		Debug("Network volume is closed by qemu, nothing to disconnect")
	return nil
}

// GetConfig returns a network disk descriptor.
func (n *NetDriver) GetConfig(info *v1alpha1.ConnectionInfo, disk v1alpha1.DiskInfo) (*libvirtxml.DomainDisk, error) {
	data, err := decodeData(info)
	if err != nil {
		return nil, err
	}

	source := &libvirtxml.DomainDiskSourceNetwork{
		Protocol: n.Protocol,
		Name:     data.Name,
	}
	for i, host := range data.Hosts {
		h := libvirtxml.DomainDiskSourceHost{Name: host}
		if i < len(data.Ports) {
			h.Port = data.Ports[i]
		}
		source.Hosts = append(source.Hosts, h)
	}

	conf := baseConfig(info, disk)
	conf.Source = &libvirtxml.DomainDiskSource{Network: source}

	if data.AuthEnabled {
		secretUUID := data.SecretUUID
		if n.SecretUUID != "" {
			secretUUID = n.SecretUUID
		}
		secretType := data.SecretType
		if secretType == "" {
			secretType = "ceph"
		}
		conf.Auth = &libvirtxml.DomainDiskAuth{
			Username: data.AuthUsername,
			Secret: &libvirtxml.DomainDiskSecret{
				Type: secretType,
				UUID: secretUUID,
			},
		}
	}

	return conf, nil
}
