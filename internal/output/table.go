package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/storage"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatInstance formats a single Instance as a table row.
func (f *TableFormatter) FormatInstance(inst *v1alpha1.Instance) (string, error) {
	return f.FormatInstanceList([]*v1alpha1.Instance{inst})
}

// FormatInstanceList formats a list of Instances as a table.
func (f *TableFormatter) FormatInstanceList(insts []*v1alpha1.Instance) (string, error) {
	if len(insts) == 0 {
		return "No instances found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tUUID\tPHASE\tVCPUs\tMEMORY\tVIFS\tVOLUMES\tAGE")
	}

	for _, inst := range insts {
		phase := string(inst.Status.Phase)
		if phase == "" {
			phase = "-"
		}

		age := "-"
		if !inst.CreationTimestamp.IsZero() {
			age = formatAge(time.Since(inst.CreationTimestamp.Time))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d MiB\t%d\t%d\t%s\n",
			inst.Name,
			inst.UUID(),
			phase,
			inst.Spec.VCPUs,
			inst.Spec.MemoryMiB,
			len(inst.Spec.Network),
			len(inst.Spec.BlockDeviceInfo.Mapping()),
			age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatVolumes formats storage volumes as a table.
func (f *TableFormatter) FormatVolumes(vols []storage.VolumeInfo) (string, error) {
	if len(vols) == 0 {
		return "No volumes found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tPOOL\tCAPACITY\tALLOCATION\tPATH")
	}

	for i := range vols {
		vol := &vols[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f GB\t%.1f GB\t%s\n",
			vol.Name, vol.Pool, vol.CapacityGB(), vol.AllocationGB(), vol.Path)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	// Less than ~2 months (8 weeks)
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	if years := days / 365; years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	return fmt.Sprintf("%dd", days)
}
