package allocator

import "github.com/AccessibleAI/cuplace/pkg/gpudevice"

type Utilization struct {
	Devices              int
	UtilizedDevices      int
	WastedDevices        int
	CUsPerDevice         int
	UtilizedCUsPerDevice int
	WastedCUs            int
	Percent              float64
}

// Summarize estimates node utilization from a single placement. The CU count
// of the placement's own device stands in for every device, so the numbers
// are only approximate on nodes with mixed device types.
func Summarize(devices []*gpudevice.GpuDevice, p *Placement) *Utilization {
	if len(devices) == 0 || p == nil {
		return &Utilization{}
	}
	cu := devices[0].CUCount
	if len(p.DeviceIndices) > 0 {
		cu = devices[p.DeviceIndices[0]].CUCount
	}
	u := &Utilization{
		Devices:              len(devices),
		UtilizedDevices:      p.UtilizedDevices,
		WastedDevices:        len(devices) - p.UtilizedDevices,
		CUsPerDevice:         cu,
		UtilizedCUsPerDevice: p.UtilizedCUs,
	}
	if p.MultiDevice || p.Policy == Preset || p.UtilizedCUs > cu {
		u.UtilizedCUsPerDevice = cu
	}
	u.WastedCUs = u.WastedDevices*cu + u.UtilizedDevices*(cu-u.UtilizedCUsPerDevice)
	if total := u.Devices * cu; total > 0 {
		u.Percent = 100 * float64(total-u.WastedCUs) / float64(total)
	}
	return u
}
