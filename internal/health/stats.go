// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package health

import (
	ps "github.com/mitchellh/go-ps"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcStats is one process's resource snapshot.
type ProcStats struct {
	RSS        uint64
	CPUPercent float64
}

// ProcInfo identifies one OS process.
type ProcInfo struct {
	PID        int
	PPID       int
	Executable string
}

// StatsProvider reads OS-level process state. The default implementation
// uses go-ps for existence and process listing and gopsutil for resource
// stats; tests substitute a fake.
type StatsProvider interface {
	Exists(pid int) bool
	Stats(pid int) (ProcStats, error)
	Processes() ([]ProcInfo, error)
}

type osStats struct{}

func (osStats) Exists(pid int) bool {
	p, err := ps.FindProcess(pid)
	return err == nil && p != nil
}

func (osStats) Stats(pid int) (ProcStats, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcStats{}, err
	}
	var out ProcStats
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		out.RSS = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		out.CPUPercent = cpu
	}
	return out, nil
}

func (osStats) Processes() ([]ProcInfo, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]ProcInfo, 0, len(procs))
	for _, p := range procs {
		out = append(out, ProcInfo{PID: p.Pid(), PPID: p.PPid(), Executable: p.Executable()})
	}
	return out, nil
}
