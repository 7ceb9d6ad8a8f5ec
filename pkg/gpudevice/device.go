package gpudevice

import (
	"fmt"
	"strings"
)

// GpuDevice is a single accelerator (or logical partition) as seen after discovery.
type GpuDevice struct {
	Index      int
	ArchClass  string
	// Target is the gfx ISA target, e.g. gfx90a.
	Target     string
	Name       string
	CUCount    int
	PCIAddress string
	NumaNode   int
	CPUCores   []int
	UniqueID   string
	Identity   string
	Visible    bool
}

// BusDevice is an accelerator entry found in the OS bus registry.
type BusDevice struct {
	PCIAddress string
	Driver     string
	NumaNode   int
	CPUCores   []int
	UniqueID   string
}

func (d *GpuDevice) String() string {
	return fmt.Sprintf("%d:%s(%s cu=%d numa=%d)", d.Index, d.Identity, d.ArchClass, d.CUCount, d.NumaNode)
}

// NormalizeUniqueID reduces the different spellings of a hardware unique id
// to one comparable form. Placeholder ids ("GPU-XX") normalize to empty.
func NormalizeUniqueID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "gpu-")
	id = strings.TrimPrefix(id, "0x")
	if strings.Trim(id, "x") == "" {
		return ""
	}
	return id
}

// ShortPCIAddress strips the PCI domain from a sysfs style address,
// "0000:c3:00.0" becomes "c3:00.0".
func ShortPCIAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if parts := strings.Split(addr, ":"); len(parts) == 3 {
		return parts[1] + ":" + parts[2]
	}
	return addr
}

// PCIAddressFromBDFID renders a packed bus/device/function id as "bb:dd.f".
func PCIAddressFromBDFID(bdfid int) string {
	bus := (bdfid >> 8) & 0xff
	dev := (bdfid >> 3) & 0x1f
	fn := bdfid & 0x7
	return fmt.Sprintf("%02x:%02x.%x", bus, dev, fn)
}
