package utils

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"facebooth-go/internal/core/processor"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

var (
	lastCPUTime        time.Time
	lastCPUUsage       float64
	cpuUsageMutex      sync.Mutex
	cpuUsageSampleRate = 500 * time.Millisecond
)

// SystemStats enthält aktuelle System- und Anwendungsstatistiken
type SystemStats struct {
	// CPU-Statistiken
	NumCPU     int     `json:"num_cpu"`
	GoRoutines int     `json:"go_routines"`
	CPUUsage   float64 `json:"cpu_usage"`

	// Speicher
	MemoryUsage   float64 `json:"memory_usage"` // Prozent des Systemspeichers
	MemoryAlloc   uint64  `json:"memory_alloc"`
	MemorySys     uint64  `json:"memory_sys"`
	MemoryAllocHR string  `json:"memory_alloc_human"`

	// Worker-Pool-Statistiken
	WorkerCount   int `json:"worker_count"`
	ActiveJobs    int `json:"active_jobs"`
	QueueLength   int `json:"queue_length"`
	QueueCapacity int `json:"queue_capacity"`

	Timestamp time.Time `json:"timestamp"`
}

// FormatBytes formatiert Bytes in lesbare Einheiten (KB, MB, GB)
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d Bytes", bytes)
	}
}

// GetCPUUsage berechnet die CPU-Auslastung mit gopsutil
func GetCPUUsage() float64 {
	cpuUsageMutex.Lock()
	defer cpuUsageMutex.Unlock()

	// Wenn weniger als 500ms seit dem letzten Sampling vergangen sind,
	// den gecachten Wert zurückgeben
	if time.Since(lastCPUTime) < cpuUsageSampleRate && !lastCPUTime.IsZero() {
		return lastCPUUsage
	}

	// Messintervall von 200ms für eine schnelle Messung
	percentages, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		log.Warnf("Fehler bei CPU-Auslastungsmessung: %v", err)
		return 0.0
	}

	var usage float64
	if len(percentages) > 0 {
		usage = percentages[0] // Gesamtauslastung aller Kerne
	}

	lastCPUTime = time.Now()
	lastCPUUsage = usage

	return usage
}

// GetSystemStats erfasst aktuelle System- und Anwendungsstatistiken
func GetSystemStats(pool processor.PoolStats) *SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := &SystemStats{
		NumCPU:        runtime.NumCPU(),
		GoRoutines:    runtime.NumGoroutine(),
		CPUUsage:      GetCPUUsage(),
		MemoryAlloc:   memStats.Alloc,
		MemorySys:     memStats.Sys,
		MemoryAllocHR: FormatBytes(memStats.Alloc),
		WorkerCount:   pool.Workers,
		ActiveJobs:    pool.ActiveJobs,
		QueueLength:   pool.QueueLength,
		QueueCapacity: pool.QueueCapacity,
		Timestamp:     time.Now(),
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		log.Debugf("Fehler beim Lesen des Systemspeichers: %v", err)
	} else {
		stats.MemoryUsage = vm.UsedPercent
	}

	return stats
}
