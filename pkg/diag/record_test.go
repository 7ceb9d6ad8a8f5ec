package diag

import (
	"bytes"
	"testing"

	"github.com/AccessibleAI/cuplace/pkg/allocator"
	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	"github.com/AccessibleAI/cuplace/pkg/gpumgr"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestDiag(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Diagnostics Suite")
}

var _ = Describe("diagnostic record", func() {

	devices := []*gpudevice.GpuDevice{
		{Index: 0, Identity: "GPU-aaaa", ArchClass: "MI250X", CUCount: 110, PCIAddress: "c1:00.0", NumaNode: 0, CPUCores: []int{0, 1, 2, 3}},
		{Index: 1, Identity: "1", ArchClass: "MI250X", CUCount: 110, PCIAddress: "d1:00.0", NumaNode: 1},
	}

	It("renders devices and utilization", func() {
		ctx := &allocator.RankContext{TotalLocalRanks: 2, MaskPolicy: allocator.Mutex}
		p, err := allocator.NewPlacement(devices, *ctx)
		Expect(err).NotTo(HaveOccurred())
		info := &gpumgr.GpuDeviceInfo{Listed: 3, Visible: 2, Bus: 2, Devices: devices}
		r := NewRecord(info, ctx, p)
		Expect(r.Hostname).NotTo(BeEmpty())
		Expect(r.Utilization.Percent).To(BeNumerically("==", 100))

		var out bytes.Buffer
		r.Render(&out)
		Expect(out.String()).To(ContainSubstring("GPU-aaaa"))
		Expect(out.String()).To(ContainSubstring("0-3"))
		Expect(out.String()).To(ContainSubstring("3 / 2 / 2"))
		Expect(out.String()).To(ContainSubstring("100.0%"))

		f := r.Fields()
		Expect(f["wastedCUs"]).To(Equal(0))
		Expect(f["devices"]).To(Equal(2))
	})

	It("formats cpu lists compactly", func() {
		Expect(FormatIDs([]int{3, 0, 1, 2, 8})).To(Equal("0-3,8"))
		Expect(FormatIDs(nil)).To(Equal("-"))
	})
})
