package diag

import (
	"os"

	"github.com/AccessibleAI/cuplace/pkg/allocator"
	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	"github.com/AccessibleAI/cuplace/pkg/gpumgr"
	"github.com/prometheus/procfs"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// Record is the diagnostic summary printed by local rank 0 in verbose mode.
type Record struct {
	Hostname       string
	Launcher       string
	OnlineCPUs     int
	ListedDevices  int
	VisibleDevices int
	BusDevices     int
	LocalRanks     int
	Devices        []*gpudevice.GpuDevice
	Placement      *allocator.Placement
	Utilization    *allocator.Utilization
}

func NewRecord(info *gpumgr.GpuDeviceInfo, ctx *allocator.RankContext, p *allocator.Placement) *Record {
	r := &Record{
		ListedDevices:  info.Listed,
		VisibleDevices: info.Visible,
		BusDevices:     info.Bus,
		LocalRanks:     ctx.TotalLocalRanks,
		Devices:        info.Devices,
		Placement:      p,
		Utilization:    allocator.Summarize(info.Devices, p),
	}
	r.setHostname()
	r.setLauncher()
	r.setOnlineCPUs()
	return r
}

func (r *Record) setHostname() {
	hostname, err := os.Hostname()
	if err != nil {
		log.Errorf("failed to detect hostname, err: %s", err)
	}
	r.Hostname = hostname
}

// setLauncher records the parent process, usually mpirun, srun or a pmi proxy.
func (r *Record) setLauncher() {
	if pr, err := process.NewProcess(int32(os.Getppid())); err == nil {
		var e error
		r.Launcher, e = pr.Name()
		if e != nil {
			log.Debug(e)
		}
	} else {
		log.Debug(err)
	}
}

func (r *Record) setOnlineCPUs() {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		log.Debug(err)
		return
	}
	cpus, err := fs.CPUInfo()
	if err != nil {
		log.Debug(err)
		return
	}
	r.OnlineCPUs = len(cpus)
}

func (r *Record) Fields() log.Fields {
	f := log.Fields{
		"hostname":       r.Hostname,
		"launcher":       r.Launcher,
		"onlineCpus":     r.OnlineCPUs,
		"listedDevices":  r.ListedDevices,
		"visibleDevices": r.VisibleDevices,
		"busDevices":     r.BusDevices,
		"devices":        len(r.Devices),
		"localRanks":     r.LocalRanks,
	}
	if u := r.Utilization; u != nil {
		f["utilizedDevices"] = u.UtilizedDevices
		f["wastedDevices"] = u.WastedDevices
		f["wastedCUs"] = u.WastedCUs
		f["utilization"] = u.Percent
	}
	if p := r.Placement; p != nil {
		f["policy"] = p.Policy
		f["rplacesPerDevice"] = p.RplacesPerDevice
		f["cusPerPlacement"] = p.CUsPerPlacement
	}
	return f
}
