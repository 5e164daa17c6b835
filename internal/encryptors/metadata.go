package encryptors

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/logging"
)

// Metadata is the encryption metadata of one volume.
// It is fetched per start attempt and never persisted.
type Metadata struct {
	// Provider selects the encryptor: "luks", "plain" or "nop".
	Provider string `yaml:"provider"`

	// KeyID references the key in the key manager.
	KeyID string `yaml:"key_id"`

	// Cipher and KeySize apply to the plain provider.
	Cipher  string `yaml:"cipher,omitempty"`
	KeySize int    `yaml:"key_size,omitempty"`

	// ControlLocation is "front-end" when the host encrypts.
	ControlLocation string `yaml:"control_location,omitempty"`
}

// Source is the external metadata service queried for volume encryption
// settings.
type Source interface {
	EncryptionMetadata(ctx context.Context, volumeID string) (*Metadata, error)
}

// Resolver decides whether a volume needs host-side encryption.
type Resolver struct {
	Source Source
	Log    logrus.FieldLogger
}

// NewResolver returns a resolver backed by source.
func NewResolver(source Source, log logrus.FieldLogger) *Resolver {
	return &Resolver{Source: source, Log: logging.Ensure(log)}
}

// Resolve returns the encryption metadata for a volume, or nil when the
// volume is not configured for encryption.
func (r *Resolver) Resolve(ctx context.Context, inst *v1alpha1.Instance, volumeID string, info *v1alpha1.ConnectionInfo) (*Metadata, error) {
	if !info.Encrypted() {
		return nil, nil
	}

	meta, err := r.Source.EncryptionMetadata(ctx, volumeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption metadata for volume %s: %w", volumeID, err)
	}
	if meta == nil || meta.Provider == "" {
		return nil, nil
	}

	logging.ForVolume(logging.ForInstance(r.Log, inst.UUID()), volumeID).
		WithField("provider", meta.Provider).
		Debug("Volume requires host-side encryption")

	return meta, nil
}

// Catalog is a Source backed by a static table of per-volume metadata.
// Volumes missing from the table fall back to Default when it is set.
type Catalog struct {
	Default *Metadata            `yaml:"default,omitempty"`
	Volumes map[string]*Metadata `yaml:"volumes,omitempty"`
}

// NewCatalog returns a catalog over volumes.
func NewCatalog(volumes map[string]*Metadata) *Catalog {
	return &Catalog{Volumes: volumes}
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encryption catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse encryption catalog: %w", err)
	}
	return &catalog, nil
}

// EncryptionMetadata implements Source.
func (c *Catalog) EncryptionMetadata(_ context.Context, volumeID string) (*Metadata, error) {
	if meta, ok := c.Volumes[volumeID]; ok {
		return meta, nil
	}
	return c.Default, nil
}
