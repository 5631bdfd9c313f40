package handlers

import (
	"time"

	"github.com/jmylchreest/cpcbridge/internal/catalog"
	"github.com/jmylchreest/cpcbridge/internal/session"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string         `json:"status"`
	Timestamp      string         `json:"timestamp"`
	Version        string         `json:"version"`
	Uptime         string         `json:"uptime"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	CPUInfo        CPUInfo        `json:"cpu_info"`
	Memory         MemoryInfo     `json:"memory"`
	Database       DatabaseHealth `json:"database"`
	ActiveSessions int            `json:"active_sessions"`
	Goroutines     int            `json:"goroutines"`
}

// CPUInfo describes host load.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo describes host and process memory.
type MemoryInfo struct {
	TotalMemoryMB      float64 `json:"total_memory_mb"`
	UsedMemoryMB       float64 `json:"used_memory_mb"`
	AvailableMemoryMB  float64 `json:"available_memory_mb"`
	ProcessMemoryMB    float64 `json:"process_memory_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// DatabaseHealth describes catalog reachability.
type DatabaseHealth struct {
	Status         string  `json:"status"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	Error          string  `json:"error,omitempty"`
}

// ProbeResponse is the body of the liveness and readiness probes.
type ProbeResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// SessionListResponse lists running and recently finished sessions.
type SessionListResponse struct {
	Active   int             `json:"active"`
	Sessions []session.Stats `json:"sessions"`
}

// ResetResponse acknowledges a decoder reset request.
type ResetResponse struct {
	SessionID   string    `json:"session_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// CaptureResponse is a catalogued capture with its replay runs.
type CaptureResponse struct {
	Capture *catalog.Capture     `json:"capture"`
	Runs    []*catalog.ReplayRun `json:"runs"`
}

// CaptureListResponse lists captures, newest first.
type CaptureListResponse struct {
	Captures []*catalog.Capture `json:"captures"`
	Count    int                `json:"count"`
}
