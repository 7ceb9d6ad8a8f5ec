package gpumgr

import (
	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

func listedGpu(index int, uniqueID, pci string) *gpudevice.GpuDevice {
	return &gpudevice.GpuDevice{Index: index, ArchClass: "MI250X", CUCount: 110, UniqueID: uniqueID, PCIAddress: pci, Visible: true}
}

var _ = Describe("device correlator", func() {

	It("joins on unique id and keeps bus order", func() {
		listed := []*gpudevice.GpuDevice{
			listedGpu(0, "GPU-aaaa", "c1:00.0"),
			listedGpu(1, "GPU-bbbb", "d1:00.0"),
		}
		bus := []*gpudevice.BusDevice{
			{PCIAddress: "d1:00.0", UniqueID: "bbbb", NumaNode: 1, CPUCores: []int{8, 9}},
			{PCIAddress: "c1:00.0", UniqueID: "0xaaaa", NumaNode: 0, CPUCores: []int{0, 1}},
		}
		table, err := Correlate(bus, listed)
		Expect(err).NotTo(HaveOccurred())
		Expect(table).To(HaveLen(2))
		Expect(table[0].Identity).To(Equal("GPU-bbbb"))
		Expect(table[0].Index).To(Equal(1))
		Expect(table[0].NumaNode).To(Equal(1))
		Expect(table[1].Identity).To(Equal("GPU-aaaa"))
		Expect(table[1].CPUCores).To(Equal([]int{0, 1}))
	})

	It("falls back to pci address when the bus entry has no unique id", func() {
		listed := []*gpudevice.GpuDevice{
			listedGpu(0, "GPU-aaaa", "c1:00.0"),
			listedGpu(1, "GPU-bbbb", "d1:00.0"),
		}
		bus := []*gpudevice.BusDevice{{PCIAddress: "d1:00.0"}}
		table, err := Correlate(bus, listed)
		Expect(err).NotTo(HaveOccurred())
		Expect(table).To(HaveLen(1))
		Expect(table[0].Identity).To(Equal("1"))
		Expect(table[0].UniqueID).To(Equal("GPU-bbbb"))
	})

	It("falls back to pci address when the unique id is shared by several records", func() {
		listed := []*gpudevice.GpuDevice{
			listedGpu(0, "GPU-cccc", "c1:00.0"),
			listedGpu(1, "GPU-cccc", "c1:00.1"),
			listedGpu(2, "GPU-cccc", "c1:00.2"),
		}
		bus := []*gpudevice.BusDevice{
			{PCIAddress: "c1:00.0", UniqueID: "cccc"},
			{PCIAddress: "c1:00.1", UniqueID: "cccc"},
			{PCIAddress: "c1:00.2", UniqueID: "cccc"},
		}
		table, err := Correlate(bus, listed)
		Expect(err).NotTo(HaveOccurred())
		Expect(table).To(HaveLen(3))
		seen := make(map[string]bool)
		for i, d := range table {
			Expect(d.Identity).To(Equal([]string{"0", "1", "2"}[i]))
			Expect(seen[d.Identity]).To(BeFalse())
			seen[d.Identity] = true
		}
	})

	It("never hands out the same identity twice across join paths", func() {
		listed := []*gpudevice.GpuDevice{
			listedGpu(0, "", "c1:00.0"),
			listedGpu(1, "0", "d1:00.0"),
		}
		idFirst := []*gpudevice.BusDevice{
			{PCIAddress: "d1:00.0", UniqueID: "0"},
			{PCIAddress: "c1:00.0"},
		}
		table, err := Correlate(idFirst, listed)
		Expect(err).NotTo(HaveOccurred())
		Expect(table).To(HaveLen(2))
		Expect(table[0].Identity).To(Equal("0"))
		Expect(table[1].Identity).To(Equal("0-1"))

		pciFirst := []*gpudevice.BusDevice{
			{PCIAddress: "c1:00.0"},
			{PCIAddress: "d1:00.0", UniqueID: "0"},
		}
		table, err = Correlate(pciFirst, listed)
		Expect(err).NotTo(HaveOccurred())
		Expect(table).To(HaveLen(2))
		Expect(table[0].Identity).To(Equal("0"))
		Expect(table[1].Identity).To(Equal("1"))
	})

	It("drops bus entries that match no visible record", func() {
		hidden := listedGpu(0, "GPU-aaaa", "c1:00.0")
		hidden.Visible = false
		listed := []*gpudevice.GpuDevice{hidden, listedGpu(1, "GPU-bbbb", "d1:00.0")}
		bus := []*gpudevice.BusDevice{
			{PCIAddress: "c1:00.0", UniqueID: "aaaa"},
			{PCIAddress: "d1:00.0", UniqueID: "bbbb"},
			{PCIAddress: "e1:00.0"},
		}
		table, err := Correlate(bus, listed)
		Expect(err).NotTo(HaveOccurred())
		Expect(table).To(HaveLen(1))
		Expect(table[0].Identity).To(Equal("GPU-bbbb"))
		Expect(table[0].Index).To(Equal(1))
	})

	It("fails with a correlation error when nothing joins", func() {
		listed := []*gpudevice.GpuDevice{listedGpu(0, "GPU-aaaa", "c1:00.0")}
		bus := []*gpudevice.BusDevice{{PCIAddress: "e1:00.0"}}
		_, err := Correlate(bus, listed)
		var ce *gpudevice.CorrelationError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(ce.BusDevices).To(Equal(1))
		var de *gpudevice.DiscoveryError
		Expect(errors.As(err, &de)).To(BeTrue())
		Expect(errors.Is(err, gpudevice.ErrNoCorrelation)).To(BeTrue())
	})
})
