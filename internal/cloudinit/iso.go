package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// VolumeLabel is the ISO volume identifier cloud-init looks for.
const VolumeLabel = "config-2"

// Paths of the config-drive files inside the image.
const (
	MetaDataPath    = "openstack/latest/meta_data.json"
	NetworkDataPath = "openstack/latest/network_data.json"
	UserDataPath    = "openstack/latest/user_data"
)

// GenerateISO creates a config-drive ISO image for an instance.
//
// Returns the ISO image as a byte slice, ready to be written to the
// instance directory.
func GenerateISO(inst *v1alpha1.Instance) ([]byte, error) {
	if inst == nil {
		return nil, fmt.Errorf("instance cannot be nil")
	}

	metaData, err := GenerateMetaData(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta_data.json: %w", err)
	}

	networkData, err := GenerateNetworkData(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network_data.json: %w", err)
	}

	userData, err := GenerateUserData(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user_data: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// Staging files are only needed until WriteTo returns.
		_ = writer.Cleanup()
	}()

	files := []struct {
		path    string
		content string
	}{
		{MetaDataPath, metaData},
		{NetworkDataPath, networkData},
		{UserDataPath, userData},
	}
	for _, f := range files {
		if err := writer.AddFile(bytes.NewReader([]byte(f.content)), f.path); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.path, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeLabel); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
