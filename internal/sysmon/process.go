// Package sysmon looks up facts about processes and signals for
// diagnostics.
package sysmon

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo describes a running process.
type ProcessInfo struct {
	PID        int32
	PPID       int32
	Name       string
	Cmdline    string
	Status     string
	CreateTime time.Time
}

// Describe collects what can be read about pid. Fields the kernel refuses
// to disclose, or that vanish because the process exited meanwhile, are
// left empty.
func Describe(pid int32) (*ProcessInfo, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("process not found: %w", err)
	}

	info := &ProcessInfo{PID: pid}
	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if cmdline, err := p.Cmdline(); err == nil {
		info.Cmdline = cmdline
	}
	if ppid, err := p.Ppid(); err == nil {
		info.PPID = ppid
	}
	if status, err := p.Status(); err == nil && len(status) > 0 {
		info.Status = status[0]
	}
	if createTime, err := p.CreateTime(); err == nil {
		info.CreateTime = time.UnixMilli(createTime)
	}
	return info, nil
}
