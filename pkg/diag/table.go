package diag

import (
	"fmt"
	"io"

	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	"github.com/jedib0t/go-pretty/v6/table"
	"k8s.io/utils/cpuset"
)

type TableOutput struct {
	header table.Row
	footer table.Row
	body   []table.Row
}

func NewTableOutput(header table.Row, body []table.Row) *TableOutput {
	return &TableOutput{header: header, body: body}
}

func (o *TableOutput) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(o.header)
	t.AppendRows(o.body)
	if o.footer != nil {
		t.AppendFooter(o.footer)
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func NewDeviceTable(devices []*gpudevice.GpuDevice) *TableOutput {
	to := &TableOutput{header: table.Row{"Pos", "Idx", "Identity", "Arch", "Target", "CUs", "PCI", "NUMA", "CPUs"}}
	totalCUs := 0
	for pos, d := range devices {
		totalCUs += d.CUCount
		to.body = append(to.body, table.Row{
			pos,
			d.Index,
			d.Identity,
			d.ArchClass,
			d.Target,
			d.CUCount,
			d.PCIAddress,
			d.NumaNode,
			FormatIDs(d.CPUCores),
		})
	}
	to.footer = table.Row{len(devices), "", "", "", "", totalCUs, "", "", ""}
	return to
}

func NewSummaryTable(r *Record) *TableOutput {
	to := &TableOutput{header: table.Row{"Metric", "Value"}}
	add := func(k string, v interface{}) {
		to.body = append(to.body, table.Row{k, v})
	}
	add("host", r.Hostname)
	add("launcher", r.Launcher)
	add("online cpus", r.OnlineCPUs)
	add("listed / visible / bus devices", fmt.Sprintf("%d / %d / %d", r.ListedDevices, r.VisibleDevices, r.BusDevices))
	add("local ranks", r.LocalRanks)
	if p := r.Placement; p != nil {
		add("policy", p.Policy)
		add("multi-device", p.MultiDevice)
		add("ranks per device", p.RplacesPerDevice)
		add("cus per rank", p.CUsPerPlacement)
	}
	if u := r.Utilization; u != nil {
		add("utilized devices", fmt.Sprintf("%d/%d", u.UtilizedDevices, u.Devices))
		add("wasted devices", u.WastedDevices)
		add("wasted cus", u.WastedCUs)
		add("utilization", fmt.Sprintf("%.1f%%", u.Percent))
	}
	return to
}

// Render prints the device table followed by the summary.
func (r *Record) Render(w io.Writer) {
	NewDeviceTable(r.Devices).Render(w)
	NewSummaryTable(r).Render(w)
}

// FormatIDs renders ids in cpulist notation, "-" when empty.
func FormatIDs(ids []int) string {
	if len(ids) == 0 {
		return "-"
	}
	return cpuset.New(ids...).String()
}
