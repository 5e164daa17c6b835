package output

import "github.com/jbweber/anvil/internal/storage"

// volumeView is the serialized form of a storage volume.
type volumeView struct {
	Name       string `json:"name" yaml:"name"`
	Pool       string `json:"pool" yaml:"pool"`
	Path       string `json:"path" yaml:"path"`
	Capacity   uint64 `json:"capacity" yaml:"capacity"`
	Allocation uint64 `json:"allocation" yaml:"allocation"`
}

func volumeViews(vols []storage.VolumeInfo) []volumeView {
	views := make([]volumeView, 0, len(vols))
	for _, v := range vols {
		views = append(views, volumeView{
			Name:       v.Name,
			Pool:       v.Pool,
			Path:       v.Path,
			Capacity:   v.Capacity,
			Allocation: v.Allocation,
		})
	}
	return views
}
