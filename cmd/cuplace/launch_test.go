package main

import (
	"github.com/AccessibleAI/cuplace/pkg/allocator"
	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	"github.com/AccessibleAI/cuplace/pkg/gpumgr"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("launch discovery", func() {

	failing := func() (*gpumgr.GpuMgr, error) {
		return nil, &gpudevice.DiscoveryError{Source: "device listing", Reason: gpudevice.ErrListingFailed}
	}

	It("fails without a preset", func() {
		ctx := &allocator.RankContext{TotalLocalRanks: 1, MaskPolicy: allocator.Mutex}
		_, err := discoverFor(ctx, failing)
		Expect(errors.Is(err, gpudevice.ErrListingFailed)).To(BeTrue())
	})

	It("lets a preset through when discovery fails", func() {
		ctx := &allocator.RankContext{TotalLocalRanks: 2, LocalRankID: 1, PresetIdentities: []string{"GPU-aa"}, PresetCUMask: "0:ff"}
		mgr, err := discoverFor(ctx, failing)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.GpuDevices).To(BeEmpty())

		p, err := allocator.NewPlacement(mgr.GpuDevices, *ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Identities).To(Equal([]string{"GPU-aa"}))
		Expect(p.CUMask).To(Equal("0:ff"))
		Expect(p.CUsPerPlacement).To(Equal(8))
	})

	It("keeps the discovered table when discovery works", func() {
		table := &gpumgr.GpuMgr{GpuDevices: getTestDevices(2)}
		ctx := &allocator.RankContext{TotalLocalRanks: 1, PresetCUMask: "0:ff"}
		mgr, err := discoverFor(ctx, func() (*gpumgr.GpuMgr, error) { return table, nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr).To(BeIdenticalTo(table))
	})
})
