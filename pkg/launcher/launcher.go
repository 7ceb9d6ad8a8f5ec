package launcher

import (
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/AccessibleAI/cuplace/pkg/allocator"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"k8s.io/utils/cpuset"
)

const (
	EnvVisibleDevices = "ROCR_VISIBLE_DEVICES"
	EnvCUMask         = "HSA_CU_MASK"
	EnvCUsPerRank     = "CUPLACE_CUS_PER_RANK"
	EnvNumaNodes      = "CUPLACE_NUMA_NODES"
	EnvCPUCores       = "CUPLACE_CPU_CORES"

	numactlBin = "numactl"
)

type Launcher struct {
	Placement *allocator.Placement
	BindCPUs  bool
	Numactl   string
}

func NewLauncher(p *allocator.Placement, bindCPUs bool) *Launcher {
	l := &Launcher{Placement: p, BindCPUs: bindCPUs}
	if bindCPUs {
		if path, err := exec.LookPath(numactlBin); err == nil {
			l.Numactl = path
		} else {
			log.Debugf("%s not found, falling back to sched_setaffinity", numactlBin)
		}
	}
	return l
}

// Environ returns base with the placement variables set.
func (l *Launcher) Environ(base []string) []string {
	p := l.Placement
	vars := map[string]string{
		EnvCUsPerRank: strconv.Itoa(p.CUsPerPlacement),
	}
	if len(p.Identities) > 0 {
		vars[EnvVisibleDevices] = strings.Join(p.Identities, ",")
	}
	if p.CUMask != "" {
		vars[EnvCUMask] = p.CUMask
	}
	if len(p.NumaNodes) > 0 {
		vars[EnvNumaNodes] = joinInts(p.NumaNodes)
	}
	if len(p.CPUCores) > 0 {
		vars[EnvCPUCores] = cpuset.New(p.CPUCores...).String()
	}
	var env []string
	for _, kv := range base {
		name := kv
		if idx := strings.Index(kv, "="); idx >= 0 {
			name = kv[:idx]
		}
		if _, ok := vars[name]; ok {
			continue
		}
		env = append(env, kv)
	}
	for _, name := range []string{EnvVisibleDevices, EnvCUMask, EnvCUsPerRank, EnvNumaNodes, EnvCPUCores} {
		if v, ok := vars[name]; ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// Command prefixes the workload with numactl when cpu binding is requested.
func (l *Launcher) Command(args []string) []string {
	p := l.Placement
	if !l.BindCPUs || l.Numactl == "" {
		return args
	}
	argv := []string{l.Numactl}
	switch {
	case len(p.CPUCores) > 0:
		argv = append(argv, "--physcpubind="+cpuset.New(p.CPUCores...).String())
	case len(p.NumaNodes) > 0:
		argv = append(argv, "--cpunodebind="+joinInts(p.NumaNodes))
	default:
		return args
	}
	return append(append(argv, "--"), args...)
}

// Exec replaces the current process with the workload.
func (l *Launcher) Exec(args []string) error {
	if len(args) == 0 {
		return errors.New("no workload to execute")
	}
	argv := l.Command(args)
	bin, err := exec.LookPath(argv[0])
	if err != nil {
		return errors.Wrapf(err, "can't locate %s", argv[0])
	}
	// affinity is per thread, keep it on the thread that calls execve
	runtime.LockOSThread()
	if l.BindCPUs && l.Numactl == "" && len(l.Placement.CPUCores) > 0 {
		if err := setAffinity(l.Placement.CPUCores); err != nil {
			log.Warnf("failed to bind cpus %v, err: %s", l.Placement.CPUCores, err)
		}
	}
	log.Debugf("exec %s", strings.Join(argv, " "))
	return errors.Wrapf(unix.Exec(bin, argv, l.Environ(os.Environ())), "failed to exec %s", bin)
}

func setAffinity(cores []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cores {
		set.Set(c)
	}
	return unix.SchedSetaffinity(0, &set)
}

func joinInts(values []int) string {
	s := make([]string, 0, len(values))
	for _, v := range values {
		s = append(s, strconv.Itoa(v))
	}
	return strings.Join(s, ",")
}
