package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/storage"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

// FormatInstance formats a single Instance as JSON.
func (f *JSONFormatter) FormatInstance(inst *v1alpha1.Instance) (string, error) {
	v1alpha1.SetDefaultAPIVersion(inst)

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal instance to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatInstanceList formats a list of Instances as a JSON array.
func (f *JSONFormatter) FormatInstanceList(insts []*v1alpha1.Instance) (string, error) {
	if len(insts) == 0 {
		return "[]\n", nil
	}

	for _, inst := range insts {
		v1alpha1.SetDefaultAPIVersion(inst)
	}

	data, err := json.MarshalIndent(insts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal instances to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatInstanceListAsItems formats a list of Instances as a JSON object
// with an items array, in the Kubernetes List shape:
//
//	{
//	  "apiVersion": "anvil.cofront.xyz/v1alpha1",
//	  "kind": "InstanceList",
//	  "items": [...]
//	}
func (f *JSONFormatter) FormatInstanceListAsItems(insts []*v1alpha1.Instance) (string, error) {
	for _, inst := range insts {
		v1alpha1.SetDefaultAPIVersion(inst)
	}
	if insts == nil {
		insts = []*v1alpha1.Instance{}
	}

	wrapper := map[string]interface{}{
		"apiVersion": v1alpha1.GroupName + "/" + v1alpha1.Version,
		"kind":       v1alpha1.InstanceKind + "List",
		"items":      insts,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(wrapper); err != nil {
		return "", fmt.Errorf("failed to marshal instance list to JSON: %w", err)
	}

	return buf.String(), nil
}

// FormatVolumes formats storage volumes as a JSON array.
func (f *JSONFormatter) FormatVolumes(vols []storage.VolumeInfo) (string, error) {
	data, err := json.MarshalIndent(volumeViews(vols), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal volumes to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
