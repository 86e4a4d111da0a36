package rpc

import (
	"net/http"
	"os"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// StartSignal releases the start gate of the process, like SIGUSR2 does
func (s *Server) StartSignal(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.controller.Release()
	write(w, s.controller.Status(), http.StatusOK)
}

// Config responds with the configuration of the process
func (s *Server) Config(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.config, http.StatusOK)
}

// ResourceUsage retrieves process and host resource usage
func (s *Server) ResourceUsage(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	pm, err := mem.VirtualMemory() // os memory
	if err != nil {
		write(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cp, err := cpu.Percent(0, false) // os cpu percent
	if err != nil {
		write(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		write(w, err.Error(), http.StatusInternalServerError)
		return
	}
	name, err := p.Name()
	if err != nil {
		write(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		write(w, err.Error(), http.StatusInternalServerError)
		return
	}
	numThreads, err := p.NumThreads()
	if err != nil {
		write(w, err.Error(), http.StatusInternalServerError)
		return
	}
	memPercent, err := p.MemoryPercent()
	if err != nil {
		write(w, err.Error(), http.StatusInternalServerError)
		return
	}
	utc, err := p.CreateTime()
	if err != nil {
		write(w, err.Error(), http.StatusInternalServerError)
		return
	}
	usage := ResourceUsageResponse{
		Process: ProcessResourceUsage{
			Name:          name,
			CreateTime:    time.UnixMilli(utc).Format(time.RFC822),
			ThreadCount:   uint64(numThreads),
			MemoryPercent: float64(memPercent),
			CPUPercent:    cpuPercent,
		},
		System: SystemResourceUsage{
			TotalRAM:       pm.Total,
			AvailableRAM:   pm.Available,
			UsedRAM:        pm.Used,
			UsedRAMPercent: pm.UsedPercent,
			FreeRAM:        pm.Free,
		},
	}
	if len(cp) != 0 {
		usage.System.UsedCPUPercent = cp[0]
	}
	write(w, usage, http.StatusOK)
}

type ProcessResourceUsage struct {
	Name          string  `json:"name"`
	CreateTime    string  `json:"createTime"`
	ThreadCount   uint64  `json:"threadCount"`
	MemoryPercent float64 `json:"usedMemoryPercent"`
	CPUPercent    float64 `json:"usedCPUPercent"`
}

type SystemResourceUsage struct {
	// ram
	TotalRAM       uint64  `json:"totalRAM"`
	AvailableRAM   uint64  `json:"availableRAM"`
	UsedRAM        uint64  `json:"usedRAM"`
	UsedRAMPercent float64 `json:"usedRAMPercent"`
	FreeRAM        uint64  `json:"freeRAM"`
	// CPU
	UsedCPUPercent float64 `json:"usedCPUPercent"`
}

type ResourceUsageResponse struct {
	Process ProcessResourceUsage `json:"process"`
	System  SystemResourceUsage  `json:"system"`
}
