package status

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// SysCollector samples host CPU/memory/disk gauges for system_info. No
// third-party system-stats library appears anywhere in the retrieval pack
// (only unrelated manifest go.mod listings reference gopsutil, with no
// accompanying usage code to ground against), so this reads /proc directly
// in the manner of the standard `top`/`vmstat` tools. Best-effort: any
// read failure leaves the corresponding gauge at its last known value.
type SysCollector struct {
	diskPath string

	mu       sync.Mutex
	prevIdle uint64
	prevTotal uint64
	last     System
}

// NewSysCollector watches diskPath's filesystem for disk_usage_percent.
func NewSysCollector(diskPath string) *SysCollector {
	if diskPath == "" {
		diskPath = "."
	}
	return &SysCollector{diskPath: diskPath}
}

// Sample returns the current gauges. CPU percent is computed from the delta
// between this call and the previous one, so the first call always reports
// 0.
func (s *SysCollector) Sample() System {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cpu, ok := s.sampleCPU(); ok {
		s.last.CPUPercent = cpu
	}
	if mem, ok := sampleMemory(); ok {
		s.last.MemoryPercent = mem
	}
	if disk, ok := sampleDisk(s.diskPath); ok {
		s.last.DiskUsagePercent = disk
	}
	return s.last
}

func (s *SysCollector) sampleCPU() (float64, bool) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, false
	}
	fields := strings.Fields(sc.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, false
	}

	var total uint64
	vals := make([]uint64, 0, len(fields)-1)
	for _, tok := range fields[1:] {
		v, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return 0, false
		}
		vals = append(vals, v)
		total += v
	}
	idle := vals[3]
	if len(vals) > 4 {
		idle += vals[4] // iowait counts as idle
	}

	prevTotal := s.prevTotal
	deltaTotal := total - prevTotal
	deltaIdle := idle - s.prevIdle
	s.prevTotal, s.prevIdle = total, idle

	if prevTotal == 0 || deltaTotal == 0 {
		return 0, true
	}
	busy := float64(deltaTotal-deltaIdle) / float64(deltaTotal)
	return busy * 100, true
}

func sampleMemory() (float64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	var total, available uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			total = v
		case "MemAvailable":
			available = v
		}
	}
	if total == 0 {
		return 0, false
	}
	return 100 * float64(total-available) / float64(total), true
}

func sampleDisk(path string) (float64, bool) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, false
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return 0, false
	}
	return 100 * float64(total-free) / float64(total), true
}
