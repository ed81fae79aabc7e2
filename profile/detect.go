package profile

import (
	"log"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo is a snapshot of the probed hardware.
type HostInfo struct {
	MemoryGB    float64
	CPUs        int
	Accelerator bool
}

// Probe inspects host RAM, CPU count and accelerator availability.
// Probe failures degrade to zero values rather than erroring: a host we
// cannot measure simply selects a smaller profile.
func Probe() HostInfo {
	var info HostInfo

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryGB = float64(vm.Total) / (1 << 30)
	} else {
		log.Printf("[PROFILE] RAM probe failed: %v", err)
	}

	if n, err := cpu.Counts(true); err == nil {
		info.CPUs = n
	} else {
		log.Printf("[PROFILE] CPU probe failed: %v", err)
	}

	info.Accelerator = probeAccelerator()
	return info
}

// probeAccelerator shells out to nvidia-smi. A missing tool or non-zero
// exit means "no accelerator", never a fatal error.
func probeAccelerator() bool {
	out, err := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}

// Detect probes the host and returns the first profile from the static
// list whose requirements are satisfied. The minimal profile has no
// requirements, so Detect always succeeds.
func Detect() Profile {
	return selectFor(Probe())
}

func selectFor(info HostInfo) Profile {
	for _, p := range Profiles {
		if info.MemoryGB < p.MinMemoryGB {
			continue
		}
		if info.CPUs < p.MinCPUs {
			continue
		}
		if p.RequiresAccelerator && !info.Accelerator {
			continue
		}
		log.Printf("[PROFILE] Selected %q (ram=%.1fGB cpus=%d accel=%v)",
			p.Name, info.MemoryGB, info.CPUs, info.Accelerator)
		return p
	}
	// Unreachable while the minimal profile has zero requirements.
	return Profiles[len(Profiles)-1]
}
