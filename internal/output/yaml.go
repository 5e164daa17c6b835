package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/storage"
)

// yamlIndent matches the indentation of hand-written instance files, so a
// saved instance can be edited and passed back to start or cleanup.
const yamlIndent = 2

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatInstance formats a single Instance as one YAML document.
func (f *YAMLFormatter) FormatInstance(inst *v1alpha1.Instance) (string, error) {
	return f.FormatInstanceList([]*v1alpha1.Instance{inst})
}

// FormatInstanceList formats Instances as a YAML stream, one document per
// instance.
func (f *YAMLFormatter) FormatInstanceList(insts []*v1alpha1.Instance) (string, error) {
	docs := make([]interface{}, 0, len(insts))
	for _, inst := range insts {
		v1alpha1.SetDefaultAPIVersion(inst)
		docs = append(docs, inst)
	}

	out, err := encodeYAML(docs...)
	if err != nil {
		return "", fmt.Errorf("failed to marshal instances to YAML: %w", err)
	}
	return out, nil
}

// FormatVolumes formats storage volumes as a single YAML sequence.
func (f *YAMLFormatter) FormatVolumes(vols []storage.VolumeInfo) (string, error) {
	if len(vols) == 0 {
		return "", nil
	}

	out, err := encodeYAML(volumeViews(vols))
	if err != nil {
		return "", fmt.Errorf("failed to marshal volumes to YAML: %w", err)
	}
	return out, nil
}

// encodeYAML writes docs as a stream. The encoder separates documents
// with "---".
func encodeYAML(docs ...interface{}) (string, error) {
	if len(docs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(yamlIndent)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return "", err
		}
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
