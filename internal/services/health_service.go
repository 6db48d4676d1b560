package services

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ClientCounter reports connected websocket clients.
type ClientCounter interface {
	ClientCount() int
}

// JobStatsProvider reports job queue statistics.
type JobStatsProvider interface {
	Stats() map[string]interface{}
}

// CountryLister lists the country profiles and whether their data loads.
type CountryLister interface {
	Countries() []CountrySummary
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	outputDir string
	countries CountryLister
	clients   ClientCounter
	jobs      JobStatsProvider
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// SystemStats represents system statistics
type SystemStats struct {
	UptimeSeconds    float64                `json:"uptime_seconds"`
	OutputFiles      int                    `json:"output_files"`
	OutputBytes      int64                  `json:"output_bytes"`
	CountriesLoaded  int                    `json:"countries_loaded"`
	WebSocketClients int                    `json:"websocket_clients"`
	Jobs             map[string]interface{} `json:"jobs,omitempty"`
	GoVersion        string                 `json:"go_version"`
	OS               string                 `json:"os"`
	Arch             string                 `json:"arch"`
}

// NewHealthService creates a health service. Any of countries, clients and
// jobs may be nil; the matching check then reports not_ready.
func NewHealthService(version, buildTime, outputDir string, countries CountryLister, clients ClientCounter, jobs JobStatsProvider, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("health service initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		outputDir: outputDir,
		countries: countries,
		clients:   clients,
		jobs:      jobs,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "health check",
		slog.String("uptime", time.Since(hs.startTime).String()))
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]ServiceHealth{
			"data":      hs.checkDataHealth(),
			"output":    hs.checkOutputHealth(),
			"websocket": hs.checkWebSocketHealth(),
			"jobs":      hs.checkJobHealth(),
		},
	}
	for name, sh := range status.Services {
		if sh.Status != "ready" {
			status.Status = "not_ready"
			hs.logger.WarnContext(ctx, "service not ready",
				slog.String("service", name),
				slog.String("message", sh.Message))
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":    hs.version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     time.Since(hs.startTime).Seconds(),
		"start_time": hs.startTime.Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

// SystemStats returns system statistics
func (hs *HealthService) SystemStats(ctx context.Context) SystemStats {
	stats := SystemStats{
		UptimeSeconds: time.Since(hs.startTime).Seconds(),
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}

	if hs.outputDir != "" {
		filepath.WalkDir(hs.outputDir, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if info, err := d.Info(); err == nil {
				stats.OutputFiles++
				stats.OutputBytes += info.Size()
			}
			return nil
		})
	}
	if hs.countries != nil {
		for _, c := range hs.countries.Countries() {
			if c.Available {
				stats.CountriesLoaded++
			}
		}
	}
	if hs.clients != nil {
		stats.WebSocketClients = hs.clients.ClientCount()
	}
	if hs.jobs != nil {
		stats.Jobs = hs.jobs.Stats()
	}
	return stats
}

func (hs *HealthService) checkDataHealth() ServiceHealth {
	if hs.countries == nil {
		return ServiceHealth{Status: "not_ready", Message: "country data not configured"}
	}
	available := 0
	for _, c := range hs.countries.Countries() {
		if c.Available {
			available++
		}
	}
	if available == 0 {
		return ServiceHealth{Status: "not_ready", Message: "no country has a readable population pyramid"}
	}
	return ServiceHealth{Status: "ready", Message: fmt.Sprintf("%d countries available", available)}
}

func (hs *HealthService) checkOutputHealth() ServiceHealth {
	if hs.outputDir == "" {
		return ServiceHealth{Status: "ready", Message: "file outputs disabled"}
	}
	if err := os.MkdirAll(hs.outputDir, 0o755); err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("cannot create output directory: %v", err)}
	}
	tmp, err := os.CreateTemp(hs.outputDir, ".health-*")
	if err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("cannot write to output directory: %v", err)}
	}
	tmp.Close()
	os.Remove(tmp.Name())
	return ServiceHealth{Status: "ready", Message: "output directory is writable"}
}

func (hs *HealthService) checkWebSocketHealth() ServiceHealth {
	if hs.clients == nil {
		return ServiceHealth{Status: "not_ready", Message: "websocket hub not initialized"}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d clients connected", hs.clients.ClientCount()),
		Uptime:  time.Since(hs.startTime).String(),
	}
}

func (hs *HealthService) checkJobHealth() ServiceHealth {
	if hs.jobs == nil {
		return ServiceHealth{Status: "not_ready", Message: "job queue not initialized"}
	}
	return ServiceHealth{Status: "ready", Message: "job queue is running"}
}
