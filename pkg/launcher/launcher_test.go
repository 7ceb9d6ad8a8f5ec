package launcher

import (
	"testing"

	"github.com/AccessibleAI/cuplace/pkg/allocator"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestLauncher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Launcher Suite")
}

var _ = Describe("launcher", func() {

	mutexPlacement := &allocator.Placement{
		Policy:          allocator.Mutex,
		Identities:      []string{"GPU-aaaa"},
		CUMask:          "0:ffff0000",
		CUsPerPlacement: 16,
		NumaNodes:       []int{1},
		CPUCores:        []int{8, 9, 10, 11},
	}

	Context("environment", func() {

		It("exports the placement and overrides inherited values", func() {
			l := &Launcher{Placement: mutexPlacement}
			env := l.Environ([]string{"HOME=/root", "ROCR_VISIBLE_DEVICES=0,1", "HSA_CU_MASK"})
			Expect(env).To(Equal([]string{
				"HOME=/root",
				"ROCR_VISIBLE_DEVICES=GPU-aaaa",
				"HSA_CU_MASK=0:ffff0000",
				"CUPLACE_CUS_PER_RANK=16",
				"CUPLACE_NUMA_NODES=1",
				"CUPLACE_CPU_CORES=8-11",
			}))
		})

		It("leaves the device list alone for a mask-only preset", func() {
			l := &Launcher{Placement: &allocator.Placement{Policy: allocator.Preset, CUMask: "0:ff", CUsPerPlacement: 8}}
			env := l.Environ([]string{"ROCR_VISIBLE_DEVICES=3"})
			Expect(env).To(Equal([]string{"ROCR_VISIBLE_DEVICES=3", "HSA_CU_MASK=0:ff", "CUPLACE_CUS_PER_RANK=8"}))
		})
	})

	Context("command", func() {

		It("prefixes numactl with the physical cpus", func() {
			l := &Launcher{Placement: mutexPlacement, BindCPUs: true, Numactl: "/usr/bin/numactl"}
			Expect(l.Command([]string{"./app", "-n", "4"})).To(Equal([]string{
				"/usr/bin/numactl", "--physcpubind=8-11", "--", "./app", "-n", "4"}))
		})

		It("binds numa nodes when no cpu list is known", func() {
			p := &allocator.Placement{NumaNodes: []int{0, 1}}
			l := &Launcher{Placement: p, BindCPUs: true, Numactl: "/usr/bin/numactl"}
			Expect(l.Command([]string{"./app"})).To(Equal([]string{"/usr/bin/numactl", "--cpunodebind=0,1", "--", "./app"}))
		})

		It("runs the workload unchanged without binding", func() {
			l := &Launcher{Placement: mutexPlacement, BindCPUs: false, Numactl: "/usr/bin/numactl"}
			Expect(l.Command([]string{"./app"})).To(Equal([]string{"./app"}))
		})
	})

	It("refuses to exec nothing", func() {
		Expect((&Launcher{Placement: mutexPlacement}).Exec(nil)).To(HaveOccurred())
	})
})
